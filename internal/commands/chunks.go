package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"fluorite-memory/internal/engine"
	"fluorite-memory/internal/types"
)

// DecodeChunks accepts a single chunk object or an array of chunks.
// Chunks without an id get a fresh one.
func DecodeChunks(data []byte) ([]*types.Chunk, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty input")
	}
	var chunks []*types.Chunk
	if data[0] == '[' {
		if err := json.Unmarshal(data, &chunks); err != nil {
			return nil, fmt.Errorf("decode chunk array: %w", err)
		}
	} else {
		var c types.Chunk
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode chunk: %w", err)
		}
		chunks = append(chunks, &c)
	}
	for _, c := range chunks {
		if c != nil && c.ID == "" {
			c.ID = types.NewChunkID()
		}
	}
	return chunks, nil
}

// readInputs reads every file argument, or stdin when there are none.
func readInputs(cmd *cli.Command) ([]*types.Chunk, error) {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		in := cmd.Root().Reader
		if in == nil {
			in = os.Stdin
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return DecodeChunks(data)
	}

	var all []*types.Chunk
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		chunks, err := DecodeChunks(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		all = append(all, chunks...)
	}
	return all, nil
}

func StoreAction(ctx context.Context, cmd *cli.Command, ac *AppContext) error {
	chunks, err := readInputs(cmd)
	if err != nil {
		return err
	}
	res, err := ac.Engine.StoreChunks(ctx, chunks)
	if err != nil {
		return err
	}
	for _, id := range res.Succeeded {
		fmt.Fprintf(ac.Out, "stored %s\n", id)
	}
	for _, f := range res.Failed {
		fmt.Fprintf(ac.Out, "failed %s: %s\n", f.ID, f.Error)
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d of %d chunks failed", len(res.Failed), len(chunks))
	}
	return nil
}

func UpdateAction(ctx context.Context, cmd *cli.Command, ac *AppContext) error {
	chunks, err := readInputs(cmd)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if err := ac.Engine.UpdateChunk(ctx, c); err != nil {
			return fmt.Errorf("update %s: %w", c.ID, err)
		}
		fmt.Fprintf(ac.Out, "updated %s\n", c.ID)
	}
	return nil
}

func GetAction(ctx context.Context, cmd *cli.Command, ac *AppContext) error {
	id, err := requireArg(cmd, "id")
	if err != nil {
		return err
	}
	c, ok, err := ac.Engine.GetChunk(ctx, types.ChunkID(id))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrChunkNotFound, id)
	}
	return ac.printJSON(c)
}

func DeleteAction(ctx context.Context, cmd *cli.Command, ac *AppContext) error {
	id, err := requireArg(cmd, "id")
	if err != nil {
		return err
	}
	existed, err := ac.Engine.DeleteChunk(ctx, types.ChunkID(id))
	if err != nil {
		return err
	}
	if !existed {
		fmt.Fprintf(ac.Out, "%s was not stored\n", id)
		return nil
	}
	fmt.Fprintf(ac.Out, "deleted %s\n", id)
	return nil
}

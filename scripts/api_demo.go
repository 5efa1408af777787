//go:build ignore

// Walks a running server through the learning loop: store a few Next.js and
// Laravel chunks, search them, ask for similar chunks, send feedback and
// fetch integration recommendations.
//
//	go run scripts/api_demo.go -base http://localhost:8083
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var baseURL = "http://localhost:8083"

type content struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

type code struct {
	Language  string `json:"language"`
	Code      string `json:"code"`
	Framework string `json:"framework,omitempty"`
}

type metadata struct {
	Source     string   `json:"source"`
	Tags       []string `json:"tags"`
	Frameworks []string `json:"frameworks"`
}

type chunk struct {
	ID       string   `json:"id"`
	Type     string   `json:"chunk_type"`
	Content  content  `json:"content"`
	Metadata metadata `json:"metadata"`
}

func main() {
	flag.StringVar(&baseURL, "base", baseURL, "server base URL")
	flag.Parse()

	run := fmt.Sprintf("demo-%d", time.Now().Unix())
	chunks := []chunk{
		{
			ID:   run + "-fetch-users",
			Type: "api_integration",
			Content: content{Kind: "code", Data: code{
				Language:  "typescript",
				Framework: "nextjs",
				Code: `export async function getServerSideProps() {
  const res = await fetch(process.env.API_URL + '/api/users')
  return { props: { users: await res.json() } }
}`,
			}},
			Metadata: metadata{Source: "demo", Tags: []string{"api"}, Frameworks: []string{"nextjs", "laravel"}},
		},
		{
			ID:   run + "-users-route",
			Type: "api_integration",
			Content: content{Kind: "code", Data: code{
				Language:  "php",
				Framework: "laravel",
				Code:      `Route::get('/api/users', [UserController::class, 'index'])->middleware('auth:sanctum');`,
			}},
			Metadata: metadata{Source: "demo", Tags: []string{"api", "auth"}, Frameworks: []string{"laravel"}},
		},
		{
			ID:   run + "-use-users",
			Type: "component",
			Content: content{Kind: "code", Data: code{
				Language:  "typescript",
				Framework: "react",
				Code: `export function useUsers() {
  const [users, setUsers] = useState([])
  useEffect(() => { fetch('/api/users').then(r => r.json()).then(setUsers) }, [])
  return users
}`,
			}},
			Metadata: metadata{Source: "demo", Frameworks: []string{"react", "nextjs"}},
		},
	}

	step("store", postJSON("/store", map[string]any{"chunks": chunks}))
	step("search", postJSON("/search", map[string]any{"query": "fetch users api", "limit": 5}))
	step("fuzzy", postJSON("/search", map[string]any{"query": "useUser", "mode": "fuzzy", "limit": 5}))
	step("similar", postJSON("/similar", map[string]any{"id": chunks[0].ID, "limit": 5}))
	step("feedback", postJSON("/feedback", map[string]any{
		"id":       chunks[0].ID,
		"feedback": map[string]any{"user_id": "demo", "feedback_type": "helpful"},
	}))
	step("integrations", getJSON("/integrations?"+url.Values{"first": {"nextjs"}, "second": {"laravel"}, "limit": {"3"}}.Encode()))
	step("relationships", getJSON("/relationships?id="+url.QueryEscape(chunks[0].ID)))
	step("stats", getJSON("/stats"))
}

type result struct {
	body string
	code int
	err  error
}

func step(name string, r result) {
	if r.err != nil {
		panic(fmt.Errorf("%s: %w", name, r.err))
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, []byte(r.body), "", "  ") != nil {
		pretty.Reset()
		pretty.WriteString(r.body)
	}
	fmt.Printf("== %s (%d)\n%s\n", name, r.code, pretty.String())
}

func postJSON(path string, payload any) result {
	b, err := json.Marshal(payload)
	if err != nil {
		return result{err: err}
	}
	resp, err := http.Post(baseURL+path, "application/json", bytes.NewBuffer(b))
	if err != nil {
		return result{err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return result{body: string(body), code: resp.StatusCode}
}

func getJSON(path string) result {
	resp, err := http.Get(baseURL + path)
	if err != nil {
		return result{err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return result{body: string(body), code: resp.StatusCode}
}

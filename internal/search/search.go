package search

type ResultType string

const (
	ResultTask  ResultType = "task"
	ResultEvent ResultType = "event"
)

type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	Status  string     `json:"status"`
}

// Query is always scoped to one tenant.
type Query struct {
	PoliticianID string
	Text         string
	FilterType   ResultType // empty = all types
	Limit        int
	Offset       int
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

type TaskRecord struct {
	ID           string `json:"id"`
	PoliticianID string `json:"politicianId"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Status       string `json:"status"`
	Priority     string `json:"priority"`
}

type EventRecord struct {
	ID            string `json:"id"`
	PoliticianID  string `json:"politicianId"`
	Title         string `json:"title"`
	Location      string `json:"location"`
	EventType     string `json:"eventType"`
	Status        string `json:"status"`
	ApprovalStage string `json:"approvalStage"`
}

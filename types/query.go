package types

type QueryRequest struct {
	Question string `json:"question"`
}

type QuerySource struct {
	FileId         string  `json:"fileId"`
	FileName       string  `json:"filename"`
	FileType       string  `json:"fileType"`
	RelevanceScore float64 `json:"relevanceScore"`
}

// QueryAnswer is never persisted.
type QueryAnswer struct {
	Question   string        `json:"question"`
	Answer     string        `json:"answer"`
	Sources    []QuerySource `json:"sources"`
	TotalFiles int           `json:"totalFiles"`
}

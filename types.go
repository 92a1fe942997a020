package pagepress

import (
	"encoding/json"

	"github.com/eringen/pagepress/content"
)

type loginRequest struct {
	Password string `json:"password" form:"password"`
}

type blocksRequest struct {
	Blocks json.RawMessage `json:"blocks"`
}

// articleRequest carries an article as markdown, or as HTML to convert.
type articleRequest struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
}

type tagsRequest struct {
	TagIDs []string `json:"tagIds"`
}

type partialRequest struct {
	Content string `json:"content"`
}

type tagRequest struct {
	Label string `json:"label"`
}

type publishRequest struct {
	Domain string `json:"domain"`
}

type uploadURLRequest struct {
	Path        string `json:"path"`
	ContentHash string `json:"contentHash"`
}

type uploadURLResponse struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// PageView is a page together with its publish state.
type PageView struct {
	*content.Page
	State content.DisplayState `json:"state"`
}

// TemplateView is a template together with its publish state.
type TemplateView struct {
	*content.Template
	State content.DisplayState `json:"state"`
}

type deleteResponse struct {
	ID       string `json:"id"`
	Strategy string `json:"strategy,omitempty"`
}

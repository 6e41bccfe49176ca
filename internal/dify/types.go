package dify

import "github.com/shopspring/decimal"

type Inputs struct {
	Model         string `json:"model"`
	SystemMessage string `json:"system_message"`
}

type ChatRequest struct {
	Inputs          Inputs           `json:"inputs"`
	Query           string           `json:"query"`
	ResponseMode    string           `json:"response_mode"`
	ParentMessageID string           `json:"parent_message_id,omitempty"`
	ConversationID  string           `json:"conversation_id"`
	User            string           `json:"user"`
	Files           []FileAttachment `json:"files"`
}

type FileAttachment struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method"`
	URL            string `json:"url,omitempty"`
	UploadFileID   string `json:"upload_file_id"`
}

type ChatResponse struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Answer         string `json:"answer"`
	Metadata       struct {
		Usage Usage `json:"usage"`
	} `json:"metadata"`
}

// Usage mirrors Dify's usage metadata. Prices arrive as decimal strings.
type Usage struct {
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	Currency         string          `json:"currency"`
	Latency          float64         `json:"latency"`
}

type FileInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

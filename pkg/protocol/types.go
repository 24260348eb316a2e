package protocol

import "encoding/json"

type (
	// RequestFrame is an outbound request expecting exactly one response frame
	RequestFrame struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Method string `json:"method"`
		Params any    `json:"params,omitempty"`
	}

	// ResponseFrame answers the request carrying the same ID
	ResponseFrame struct {
		ID      string          `json:"id"`
		OK      bool            `json:"ok"`
		Payload json.RawMessage `json:"payload,omitempty"`
		Error   *ErrorShape     `json:"error,omitempty"`
	}

	// ErrorShape is the error body of a failed response
	ErrorShape struct {
		Message string          `json:"message"`
		Code    any             `json:"code,omitempty"`
		Details json.RawMessage `json:"details,omitempty"`
	}

	// EventFrame is an unsolicited push from the gateway
	EventFrame struct {
		Type   string          `json:"type"`
		Event  string          `json:"event"`
		Seq    int64           `json:"seq"`
		Method string          `json:"method,omitempty"`
		Params json.RawMessage `json:"params,omitempty"`
	}

	// ConnectParams is sent as the params of the connect handshake
	ConnectParams struct {
		MinProtocol int         `json:"minProtocol"`
		MaxProtocol int         `json:"maxProtocol"`
		Client      ClientInfo  `json:"client"`
		Caps        []string    `json:"caps"`
		Auth        *AuthParams `json:"auth,omitempty"`
		Role        string      `json:"role,omitempty"`
		Scopes      []string    `json:"scopes,omitempty"`
	}

	// ClientInfo describes this process to the gateway
	ClientInfo struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName,omitempty"`
		Version     string `json:"version"`
		Platform    string `json:"platform"`
		Mode        string `json:"mode"`
	}

	// AuthParams carries the optional bearer credential
	AuthParams struct {
		Token string `json:"token,omitempty"`
	}

	// HelloOK is the payload of a successful connect response
	HelloOK struct {
		Protocol int             `json:"protocol,omitempty"`
		Policy   json.RawMessage `json:"policy,omitempty"`
	}

	// ChatSendParams are the params of chat.send
	ChatSendParams struct {
		SessionKey     string       `json:"sessionKey"`
		Message        string       `json:"message"`
		IdempotencyKey string       `json:"idempotencyKey"`
		TimeoutMs      int64        `json:"timeoutMs,omitempty"`
		Deliver        bool         `json:"deliver"`
		Attachments    []Attachment `json:"attachments,omitempty"`
		Thinking       string       `json:"thinking,omitempty"`
	}

	// Attachment is an inline file passed along with a chat message
	Attachment struct {
		Type     string `json:"type"`
		MimeType string `json:"mimeType,omitempty"`
		FileName string `json:"fileName,omitempty"`
		Content  string `json:"content"`
	}

	// ChatSendResult is the immediate acknowledgement of chat.send
	ChatSendResult struct {
		RunID  string `json:"runId,omitempty"`
		Status string `json:"status,omitempty"`
	}

	// Usage is the token accounting reported on turn completion
	Usage struct {
		PromptTokens     int `json:"promptTokens"`
		CompletionTokens int `json:"completionTokens"`
	}
)

// NewRequest builds a request frame
func NewRequest(id, method string, params any) RequestFrame {
	return RequestFrame{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: method,
		Params: params,
	}
}

// TotalTokens returns prompt plus completion tokens
func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

package server

import "encoding/json"

// Request is the envelope clients send over the websocket. Payload stays
// raw until the command handler knows what to decode it into.
type Request struct {
	ID      string          `json:"id"`
	Cmd     string          `json:"cmd"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the envelope for every reply. Exactly one of Data and Err
// is populated, keyed by OK.
type Response struct {
	ID   string     `json:"id"`
	OK   bool       `json:"ok"`
	Data any        `json:"data,omitempty"`
	Err  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries the failure taxonomy code and an operator-facing
// message rendered verbatim by the UI.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func okResponse(id string, data any) *Response {
	return &Response{ID: id, OK: true, Data: data}
}

func errResponse(id string, err error) *Response {
	return &Response{ID: id, OK: false, Err: toErrorBody(err)}
}

func codeResponse(id, code, message string) *Response {
	return &Response{ID: id, OK: false, Err: &ErrorBody{Code: code, Message: message}}
}

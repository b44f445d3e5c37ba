package usidto

// CommandResponse is the envelope returned by every control operation.
type CommandResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func OK(message string, data any) CommandResponse {
	return CommandResponse{Success: true, Message: message, Data: data}
}

func Fail(message string) CommandResponse {
	return CommandResponse{Success: false, Message: message}
}

package common

// ApiResponse is the envelope for successful API responses
type ApiResponse[T any] struct {
	Data    T      `json:"data"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the envelope for failed API responses.
// Status is always false; Error carries a machine-readable code when one
// exists and Message the human-readable explanation.
type ErrorResponse struct {
	Status  bool   `json:"status"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func Errorf(code, message string) ErrorResponse {
	return ErrorResponse{Status: false, Error: code, Message: message}
}

// ApplicationError hides internal error detail from non-diagnostic endpoints
func ApplicationError() ErrorResponse {
	return ErrorResponse{Status: false, Error: "Application Error"}
}

package dto

// ErrorResponseDTO is the body of every non-2xx JSON response.
type ErrorResponseDTO struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Package httperror defines the JSON error body of the status API.
package httperror

type Error struct {
	Message string `json:"error" example:"record is not in the failed state"`
}

func New(e error) Error {
	return Error{
		Message: e.Error(),
	}
}

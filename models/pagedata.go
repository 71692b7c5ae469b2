package models

type FieldError struct {
	Field   string
	Message string
}

// FormData holds previously entered values so a rejected form can be re-rendered.
// Passwords are never carried back.
type FormData struct {
	Username string
	Email    string
	ID       string
	Token    string
}

type PageData struct {
	CSRFtoken  string
	IsLoggedIn bool
	Username   string
	Error      string
	Message    string
	Errors     []FieldError
	Form       FormData
}

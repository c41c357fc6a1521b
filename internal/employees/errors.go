package employees

import "errors"

var (
	ErrEmployeeNotFound          = errors.New("employees: employee not found")
	ErrDuplicateEmployeeNumber   = errors.New("employees: employee number already exists")
	ErrInvalidContactInformation = errors.New("employees: invalid contact information")
)

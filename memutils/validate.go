package memutils

// Validatable is implemented by anything that can check its own internal consistency, such as
// block metadata. DebugValidate acts upon any Validatable.
type Validatable interface {
	Validate() error
}

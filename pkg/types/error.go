package types

// ConstError is a sentinel error that can be declared as a constant.
type ConstError string

func (err ConstError) Error() string { return string(err) }

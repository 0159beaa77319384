package mmdbtest

// Encode serializes the given values one after another exactly as
// they would appear in a data section. Useful for decoder tests which
// need raw value bytes without a whole database around them.
func Encode(values ...interface{}) ([]byte, error) {
	e := &encoder{}

	for _, v := range values {
		if err := e.encode(v); err != nil {
			return nil, err
		}
	}

	return e.buf.Bytes(), nil
}

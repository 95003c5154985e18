package shared

// Page bounds a listing query.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page to sane defaults.
func (p Page) Normalize(defaultSize, maxSize int) Page {
	if p.Size <= 0 {
		p.Size = defaultSize
	}
	if p.Size > maxSize {
		p.Size = maxSize
	}
	if p.Number <= 0 {
		p.Number = 1
	}
	return p
}

// Offset is the number of rows to skip.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

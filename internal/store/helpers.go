package store

// nullStr — пустая строка уходит в NULL, чтобы coalesce-поля не засорялись.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

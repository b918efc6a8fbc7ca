package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"libimport/internal"
)

const booksKey = "books"

// State is the catalog document. Books are kept as raw JSON so entries written by other
// tools (string ids, extra fields) survive a rewrite unchanged; every other top-level
// collection (issuance, members, ...) is carried through untouched.
type State struct {
	Books []json.RawMessage
	other map[string]json.RawMessage
}

// NewState is the empty catalog used when no document exists yet.
func NewState() *State {
	return &State{
		Books: []json.RawMessage{},
		other: map[string]json.RawMessage{
			"issuance": json.RawMessage(`[]`),
			"members":  json.RawMessage(`[]`),
		},
	}
}

func (s *State) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("catalog document is not an object")
	}

	books := []json.RawMessage{}
	if raw, ok := doc[booksKey]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &books); err != nil {
			return fmt.Errorf("catalog %q collection: %w", booksKey, err)
		}
	}
	delete(doc, booksKey)

	s.Books = books
	s.other = doc
	return nil
}

func (s *State) MarshalJSON() ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(s.other)+1)
	for k, v := range s.other {
		doc[k] = v
	}
	books := s.Books
	if books == nil {
		books = []json.RawMessage{}
	}
	blob, err := json.Marshal(books)
	if err != nil {
		return nil, err
	}
	doc[booksKey] = blob
	return json.Marshal(doc)
}

// Collection returns a non-book top-level value as stored.
func (s *State) Collection(name string) (json.RawMessage, bool) {
	v, ok := s.other[name]
	return v, ok
}

// NextID is one past the highest integer id among the stored books, or 1.
// Ids that are not plain digit runs (numbers or strings) are ignored.
func (s *State) NextID() int {
	maxID := 0
	for _, raw := range s.Books {
		id, ok := bookIntID(raw)
		if ok && id > maxID {
			maxID = id
		}
	}
	return maxID + 1
}

// Append assigns consecutive ids starting at NextID, in slice order, and appends the books.
// It returns the first and last id assigned; both are 0 when books is empty.
func (s *State) Append(books []internal.Book) (int, int, error) {
	if len(books) == 0 {
		return 0, 0, nil
	}

	next := s.NextID()
	encoded := make([]json.RawMessage, 0, len(books))
	for i := range books {
		books[i].ID = next + i
		blob, err := json.Marshal(books[i])
		if err != nil {
			return 0, 0, fmt.Errorf("encode book %q: %w", books[i].Title, err)
		}
		encoded = append(encoded, blob)
	}
	s.Books = append(s.Books, encoded...)
	return next, next + len(books) - 1, nil
}

// Entries decodes the books for read-only use; numbers keep their literal form.
func (s *State) Entries() ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(s.Books))
	for i, raw := range s.Books {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var entry map[string]any
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("book %d: %w", i, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func bookIntID(raw json.RawMessage) (int, bool) {
	var book struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &book); err != nil || len(book.ID) == 0 {
		return 0, false
	}

	literal := string(book.ID)
	var str string
	if err := json.Unmarshal(book.ID, &str); err == nil {
		literal = str
	}
	if !isDigits(literal) {
		return 0, false
	}
	id, err := strconv.Atoi(literal)
	if err != nil {
		return 0, false
	}
	return id, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

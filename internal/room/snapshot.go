package room

import (
	"encoding/json"
)

// Snapshot is an encoded raster of one page's entire visible surface,
// typically a data URL. The server never inspects it. A nil Snapshot is the
// absent value and means the page is blank.
type Snapshot []byte

// Absent reports whether s is the blank page marker.
func (s Snapshot) Absent() bool {
	return s == nil
}

// blank is true for absent and empty snapshots alike.
func (s Snapshot) blank() bool {
	return len(s) == 0
}

// Equal reports whether two snapshots hold the same value. Absent only
// equals absent.
func (s Snapshot) Equal(other Snapshot) bool {
	if s == nil || other == nil {
		return s == nil && other == nil
	}
	return string(s) == string(other)
}

func (s Snapshot) String() string {
	if s == nil {
		return "<absent>"
	}
	return string(s)
}

// MarshalJSON encodes the snapshot as a JSON string, or null when absent.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON accepts a JSON string or null.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Snapshot(str)
	if *s == nil {
		*s = Snapshot{}
	}
	return nil
}

package simulation

// EntityReference identifies a named model entity. EntityID is unique within
// one loaded simulation; Path and Name are not guaranteed to be.
type EntityReference struct {
	EntityID string
	Path     string
	Name     string
}

func (e EntityReference) String() string {
	if e.Path != "" {
		return e.Path
	}
	return e.EntityID
}

package assets

// Asset is an immutable value type for a resolved asset. Instances are only
// created by the Resolver, which performs the registry lookup once and
// returns a fully populated value; fields are never mutated afterwards.
type Asset struct {
	identifier string
	name       string
	isFiat     bool
}

func (a Asset) Identifier() string { return a.identifier }
func (a Asset) Name() string       { return a.name }
func (a Asset) IsFiat() bool       { return a.isFiat }
func (a Asset) IsCrypto() bool     { return !a.isFiat }

// IsZero reports whether the asset is the unresolved zero value.
func (a Asset) IsZero() bool { return a.identifier == "" }

func (a Asset) String() string { return a.identifier }

// Less orders assets by identifier, matching equality semantics.
func (a Asset) Less(other Asset) bool { return a.identifier < other.identifier }

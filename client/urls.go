package client

// URLBuilder constructs the public URLs of a hosted repository.
type URLBuilder interface {
	Home() string
	Clone() string
	Archive(ref string) string
}

// BaseURLs provides a default URLBuilder implementation.
type BaseURLs struct {
	HomeFn    func() string
	CloneFn   func() string
	ArchiveFn func(ref string) string
}

func (b *BaseURLs) Home() string {
	if b.HomeFn != nil {
		return b.HomeFn()
	}
	return ""
}

func (b *BaseURLs) Clone() string {
	if b.CloneFn != nil {
		return b.CloneFn()
	}
	return ""
}

func (b *BaseURLs) Archive(ref string) string {
	if b.ArchiveFn != nil {
		return b.ArchiveFn(ref)
	}
	return ""
}

// BuildURLs returns a map of all non-empty URLs for a repository at ref.
// Keys are "home", "clone" and "archive".
func BuildURLs(urls URLBuilder, ref string) map[string]string {
	result := make(map[string]string)
	if v := urls.Home(); v != "" {
		result["home"] = v
	}
	if v := urls.Clone(); v != "" {
		result["clone"] = v
	}
	if ref != "" {
		if v := urls.Archive(ref); v != "" {
			result["archive"] = v
		}
	}
	return result
}

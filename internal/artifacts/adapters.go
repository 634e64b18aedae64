package artifacts

// Store publishes finished ISOs.
type Store interface {
	Publish(isoPath, name string, metadata Metadata) (Published, error)
	Remove(name string) error
}

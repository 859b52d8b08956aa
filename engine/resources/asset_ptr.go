package resources

// Asset is implemented by every record an AssetPtr can point at.
type Asset interface {
	AddReference()
	RemoveReference() uint64
	// IsLoaded reports whether the payload is safe to read.
	IsLoaded() bool
}

// Loader finds or schedules the record for a path and takes one reference
// for the caller. The lookup and the reference are atomic with respect to
// garbage collection, so a returned record is never one being destroyed.
// It never blocks on the upload.
type Loader[T Asset] interface {
	AcquireAsset(path string) T
}

// AssetPtr is an owning handle on a shared asset record, keyed by path.
// A bound handle holds exactly one reference. Copying the struct does not
// add a reference, use Clone.
type AssetPtr[T Asset] struct {
	path  string
	asset T
	bound bool
}

// NewAssetPtr returns an unbound handle for path. Nothing is loaded until
// Load is called.
func NewAssetPtr[T Asset](path string) AssetPtr[T] {
	return AssetPtr[T]{path: path}
}

func (p *AssetPtr[T]) Path() string {
	return p.path
}

// Load binds the handle through loader and takes one reference. It is a
// no-op on a bound handle or one without a path.
func (p *AssetPtr[T]) Load(loader Loader[T]) {
	if p.bound || p.path == "" {
		return
	}
	p.asset = loader.AcquireAsset(p.path)
	p.bound = true
}

// IsLoaded requires a bound record whose payload is ready.
func (p *AssetPtr[T]) IsLoaded() bool {
	return p.bound && p.asset.IsLoaded()
}

func (p *AssetPtr[T]) Clone() AssetPtr[T] {
	if p.bound {
		p.asset.AddReference()
	}
	return *p
}

// Move transfers ownership out of p and leaves it empty.
func (p *AssetPtr[T]) Move() AssetPtr[T] {
	out := *p
	*p = AssetPtr[T]{}
	return out
}

// Reset drops the reference, keeping the path so the handle can be loaded
// again.
func (p *AssetPtr[T]) Reset() {
	if !p.bound {
		return
	}
	p.asset.RemoveReference()
	var zero T
	p.asset = zero
	p.bound = false
}

func (p *AssetPtr[T]) Get() (T, bool) {
	return p.asset, p.bound
}

func (p *AssetPtr[T]) IsBound() bool {
	return p.bound
}

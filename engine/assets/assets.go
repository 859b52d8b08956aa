package assets

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/keystone/engine/assets/loaders"
	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
)

var (
	ErrCatalogClosed   = errors.New("asset catalog already closed")
	ErrAssetNotFound   = errors.New("asset not found")
	ErrNoLoader        = errors.New("no loader registered for asset type")
	ErrUnknownFileType = errors.New("unknown asset file type")
)

type AssetInfo struct {
	Path     string
	Type     metadata.ResourceType
	Modified time.Time
}

// AssetCatalog indexes the files under the asset root and routes loads to
// the loader registered for their type. With watching enabled it keeps the
// index current and reports changes to a callback.
type AssetCatalog struct {
	basePath string
	assets   map[string]AssetInfo
	loaders  map[metadata.ResourceType]Loader
	images   *loaders.ImageLoader
	models   *loaders.ModelLoader

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
	onChange func(AssetInfo, fsnotify.Op)
}

type CatalogConfig struct {
	BasePath string
	Watch    bool
	// MaxConcurrentDecodes bounds parallel image decodes. Zero means one
	// per CPU.
	MaxConcurrentDecodes int64
}

func NewAssetCatalog(config CatalogConfig) (*AssetCatalog, error) {
	images := loaders.NewImageLoader(config.MaxConcurrentDecodes)
	ac := &AssetCatalog{
		basePath: config.BasePath,
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[metadata.ResourceType]Loader),
		images:   images,
		models:   loaders.NewModelLoader(images),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	// Register loaders
	ac.registerLoader(metadata.ResourceTypeBinary, &loaders.BinaryLoader{})
	ac.registerLoader(metadata.ResourceTypeImage, images)
	ac.registerLoader(metadata.ResourceTypeModel, ac.models)
	ac.registerLoader(metadata.ResourceTypeMaterial, &loaders.MaterialLoader{})
	ac.registerLoader(metadata.ResourceTypeShader, &loaders.ShaderLoader{})

	if config.BasePath == "" {
		close(ac.stopped)
		return ac, nil
	}

	if config.Watch {
		fsWatch, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		ac.fsnotify = fsWatch
		go ac.start()
	} else {
		close(ac.stopped)
	}
	if err := ac.watchRecursive(config.BasePath, false); err != nil {
		ac.Shutdown()
		return nil, err
	}
	core.LogInfo("Asset catalog indexed %d files under %s (watch %t).", ac.Len(), config.BasePath, config.Watch)
	return ac, nil
}

// OnChange installs a callback invoked from the watcher goroutine whenever
// an indexed file is created, written or removed.
func (ac *AssetCatalog) OnChange(fn func(AssetInfo, fsnotify.Op)) {
	ac.mutex.Lock()
	defer ac.mutex.Unlock()
	ac.onChange = fn
}

// Register loaders for each asset type
func (ac *AssetCatalog) registerLoader(assetType metadata.ResourceType, loader Loader) {
	ac.loaders[assetType] = loader
}

func (ac *AssetCatalog) Images() *loaders.ImageLoader {
	return ac.images
}

func (ac *AssetCatalog) Models() *loaders.ModelLoader {
	return ac.models
}

// Resolve maps an asset path to a file on disk. The index is consulted
// first, then relative paths are looked up under the base path. In both
// cases an lz4 compressed sibling is used when the plain file is missing.
func (ac *AssetCatalog) Resolve(path string) (string, error) {
	if full, ok := ac.resolveIndexed(path); ok {
		return full, nil
	}
	candidates := []string{path}
	if !filepath.IsAbs(path) && ac.basePath != "" {
		candidates = []string{filepath.Join(ac.basePath, path), path}
	}
	for _, c := range candidates {
		for _, p := range []string{c, c + loaders.CompressedExt} {
			if s, err := os.Stat(p); err == nil && !s.IsDir() {
				return p, nil
			}
		}
	}
	return "", errors.Wrapf(ErrAssetNotFound, "%s", path)
}

func (ac *AssetCatalog) resolveIndexed(path string) (string, bool) {
	key := filepath.Clean(path)
	if filepath.IsAbs(path) && ac.basePath != "" {
		key = ac.relative(path)
	}
	ac.mutex.RLock()
	defer ac.mutex.RUnlock()
	for _, k := range []string{key, key + loaders.CompressedExt} {
		if info, ok := ac.assets[k]; ok {
			return ac.fullPath(info.Path), true
		}
	}
	return "", false
}

// fullPath turns an index key back into a file path.
func (ac *AssetCatalog) fullPath(rel string) string {
	if filepath.IsAbs(rel) || ac.basePath == "" {
		return rel
	}
	return filepath.Join(ac.basePath, rel)
}

// Load an asset using the loader registered for its file type
func (ac *AssetCatalog) LoadAsset(path string, params interface{}) (*metadata.Resource, error) {
	full, err := ac.Resolve(path)
	if err != nil {
		return nil, err
	}
	assetType := determineAssetType(full)
	if assetType == metadata.ResourceTypeNone {
		return nil, errors.Wrapf(ErrUnknownFileType, "%s", path)
	}

	loader, loaderExists := ac.loaders[assetType]
	if !loaderExists {
		return nil, errors.Wrapf(ErrNoLoader, "%s", assetType)
	}
	return loader.Load(full, assetType, params)
}

func (ac *AssetCatalog) UnloadAsset(resource *metadata.Resource) error {
	loader, ok := ac.loaders[resource.Type]
	if !ok {
		return errors.Wrapf(ErrNoLoader, "%s", resource.Type)
	}
	return loader.Unload(resource)
}

// Lookup returns the index entry for a path relative to the base path.
func (ac *AssetCatalog) Lookup(path string) (AssetInfo, bool) {
	ac.mutex.RLock()
	defer ac.mutex.RUnlock()
	info, ok := ac.assets[filepath.Clean(path)]
	return info, ok
}

func (ac *AssetCatalog) Len() int {
	ac.mutex.RLock()
	defer ac.mutex.RUnlock()
	return len(ac.assets)
}

// Shutdown stops the watcher.
func (ac *AssetCatalog) Shutdown() {
	ac.mutex.Lock()
	if ac.isClosed {
		ac.mutex.Unlock()
		return
	}
	ac.isClosed = true
	ac.mutex.Unlock()

	close(ac.done)
	<-ac.stopped
}

func (ac *AssetCatalog) start() {
	defer close(ac.stopped)
	for {
		select {

		case e, ok := <-ac.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := ac.watchRecursive(e.Name, false); err != nil {
						core.LogWarn("asset catalog: watching %s: %s", e.Name, err)
					}
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				ac.handleFileEvent(e.Name, e.Op)
			}
			// Can't stat a deleted entry, so drop it from both the index and
			// the watch list.
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				ac.removeAsset(e.Name, e.Op)
				_ = ac.fsnotify.Remove(e.Name)
			}

		case e, ok := <-ac.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset catalog: %s", e)

		case <-ac.done:
			ac.fsnotify.Close()
			return
		}
	}
}

// watchRecursive indexes every file under path and, when watching, adds
// every directory to the watch list.
func (ac *AssetCatalog) watchRecursive(path string, unWatch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if ac.fsnotify == nil {
				return nil
			}
			if unWatch {
				return ac.fsnotify.Remove(walkPath)
			}
			return ac.fsnotify.Add(walkPath)
		}
		ac.index(walkPath, fi.ModTime())
		return nil
	})
}

func (ac *AssetCatalog) relative(path string) string {
	if rel, err := filepath.Rel(ac.basePath, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return filepath.Clean(path)
}

func (ac *AssetCatalog) index(path string, modified time.Time) (AssetInfo, bool) {
	assetType := determineAssetType(path)
	if assetType == metadata.ResourceTypeNone {
		return AssetInfo{}, false
	}
	info := AssetInfo{
		Path:     ac.relative(path),
		Type:     assetType,
		Modified: modified,
	}
	ac.mutex.Lock()
	ac.assets[info.Path] = info
	ac.mutex.Unlock()
	return info, true
}

// Handle the creation or modification of a file
func (ac *AssetCatalog) handleFileEvent(path string, op fsnotify.Op) {
	info, ok := ac.index(path, time.Now())
	if !ok {
		return
	}
	ac.notify(info, op)
}

// Remove the asset from the index if it was deleted
func (ac *AssetCatalog) removeAsset(path string, op fsnotify.Op) {
	rel := ac.relative(path)
	ac.mutex.Lock()
	info, ok := ac.assets[rel]
	delete(ac.assets, rel)
	ac.mutex.Unlock()
	if ok {
		ac.notify(info, op)
	}
}

func (ac *AssetCatalog) notify(info AssetInfo, op fsnotify.Op) {
	ac.mutex.RLock()
	fn := ac.onChange
	ac.mutex.RUnlock()
	if fn != nil {
		fn(info, op)
	}
}

func determineAssetType(path string) metadata.ResourceType {
	switch loaders.AssetExt(path) {
	case ".spv":
		return metadata.ResourceTypeShader
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return metadata.ResourceTypeImage
	case ".mtl":
		return metadata.ResourceTypeMaterial
	case ".obj", ".model.toml":
		return metadata.ResourceTypeModel
	case ".bin":
		return metadata.ResourceTypeBinary
	default:
		return metadata.ResourceTypeNone
	}
}

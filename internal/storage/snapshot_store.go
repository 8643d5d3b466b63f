// internal/storage/snapshot_store.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/Corphon/TomatoTown/internal/models"
)

const (
	savesDir     = "saves"
	snapshotExt  = ".json"
	DefaultSlot  = "default"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

var slotPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Store 游戏存档的持久化后端。Load 在没有存档时返回 (nil, nil)。
type Store interface {
	Save(ctx context.Context, snapshot *models.Snapshot) error
	Load(ctx context.Context) (*models.Snapshot, error)
	Delete(ctx context.Context) error
	Close() error
}

// ValidateSlot 存档槽名只允许字母、数字、下划线和连字符
func ValidateSlot(slot string) error {
	if !slotPattern.MatchString(slot) {
		return fmt.Errorf("invalid save slot %q", slot)
	}
	return nil
}

// FileSnapshotStore 把存档保存为 <base>/saves/<slot>.json
type FileSnapshotStore struct {
	files *FileStorage
	slot  string
}

// NewFileSnapshotStore 在 baseDir 下创建文件存档
func NewFileSnapshotStore(baseDir, slot string) (*FileSnapshotStore, error) {
	if slot == "" {
		slot = DefaultSlot
	}
	if err := ValidateSlot(slot); err != nil {
		return nil, err
	}
	files, err := NewFileStorage(baseDir)
	if err != nil {
		return nil, err
	}
	return &FileSnapshotStore{files: files, slot: slot}, nil
}

func (s *FileSnapshotStore) filename() string {
	return s.slot + snapshotExt
}

// Save 原子性覆盖存档
func (s *FileSnapshotStore) Save(ctx context.Context, snapshot *models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.files.SaveJSONFile(savesDir, s.filename(), snapshot)
}

// Load 读取存档；不存在时返回 nil
func (s *FileSnapshotStore) Load(ctx context.Context) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var snap models.Snapshot
	if err := s.files.LoadJSONFile(savesDir, s.filename(), &snap); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

// Delete 删除存档；本来就不存在也算成功
func (s *FileSnapshotStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.files.DeleteFile(savesDir, s.filename()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Slots 已有存档槽
func (s *FileSnapshotStore) Slots() ([]string, error) {
	return s.files.ListFiles(savesDir, snapshotExt)
}

func (s *FileSnapshotStore) Close() error {
	return nil
}

// Open 按驱动打开存档后端
func Open(driver, dataDir, sqlitePath, slot string) (Store, error) {
	switch driver {
	case "", DriverFile:
		return NewFileSnapshotStore(dataDir, slot)
	case DriverSQLite:
		return OpenSQLite(sqlitePath, slot)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

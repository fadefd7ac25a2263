package engine

import (
	"io"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/dump"
	"github.com/zhukovaskychina/xkv-engine/logger"
)

// Export streams the whole environment: one environment record, then
// per database a database record followed by its items in key order
// (duplicates expanded in duplicate order).
func (env *Environment) Export(w io.Writer) error {
	dw := dump.NewWriter(w)
	if err := dw.WriteEnvironment(dump.EnvironmentRecord{
		Flags:        env.flags,
		PageSize:     env.pageSize,
		MaxDatabases: env.maxDatabases,
	}); err != nil {
		return errors.Trace(err)
	}

	for _, name := range env.DatabaseNames() {
		db := env.openDB(name)
		opened := false
		if db == nil {
			var err error
			db, err = env.OpenDB(name)
			if err != nil {
				return errors.Trace(err)
			}
			opened = true
		}
		if err := exportDatabase(db, dw); err != nil {
			return errors.Trace(err)
		}
		if opened {
			if err := db.Close(); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

func exportDatabase(db *Database, dw *dump.Writer) error {
	if err := dw.WriteDatabase(dump.DatabaseRecord{
		Name:       db.name,
		Flags:      db.flags,
		KeySize:    db.keySize,
		KeyType:    uint16(db.keyType),
		RecordSize: db.recordSize,
	}); err != nil {
		return errors.Trace(err)
	}

	cursor, err := db.Cursor(nil)
	if err != nil {
		return errors.Trace(err)
	}
	defer cursor.Close()

	flags := basic.CursorFirst
	count := 0
	for {
		key, record, err := cursor.Move(flags)
		if errors.Cause(err) == basic.ErrKeyNotFound {
			break
		}
		if err != nil {
			return errors.Trace(err)
		}
		if err := dw.WriteItem(key, record); err != nil {
			return errors.Trace(err)
		}
		count++
		flags = basic.CursorNext
	}
	logger.Debugf("database %d exported, %d items", db.name, count)
	return nil
}

// Import replays an export stream into a freshly created environment
// at dir/fileName and returns it. The database handles it creates are
// closed before it returns; callers open them by name.
func Import(r io.Reader, dir string, fileName string) (*Environment, error) {
	dr := dump.NewReader(r)

	var env *Environment
	var db *Database

	for {
		tag, value, err := dr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Trace(err)
		}

		switch tag {
		case dump.TagEnvironment:
			if env != nil {
				return nil, errors.Annotate(basic.ErrInvalidParameter, "duplicate environment record")
			}
			rec := value.(dump.EnvironmentRecord)
			env, err = Create(dir, fileName, rec.Flags, &EnvConfig{
				PageSize:     rec.PageSize,
				MaxDatabases: rec.MaxDatabases,
			})
			if err != nil {
				return nil, errors.Trace(err)
			}
		case dump.TagDatabase:
			if env == nil {
				return nil, errors.Annotate(basic.ErrInvalidParameter, "database record before environment record")
			}
			rec := value.(dump.DatabaseRecord)
			if db != nil {
				if err := db.Close(); err != nil {
					return nil, errors.Trace(err)
				}
			}
			db, err = env.CreateDB(rec.Name, rec.Flags, &DBConfig{
				KeySize:    rec.KeySize,
				KeyType:    basic.KeyType(rec.KeyType),
				RecordSize: rec.RecordSize,
			})
			if err != nil {
				return nil, errors.Trace(err)
			}
		case dump.TagItem:
			if db == nil {
				return nil, errors.Annotate(basic.ErrInvalidParameter, "item record before database record")
			}
			item := value.(dump.ItemRecord)
			insertFlags := uint32(0)
			if db.flags&basic.FlagEnableDuplicates != 0 {
				insertFlags = basic.InsertDuplicate
			}
			if err := db.Insert(nil, item.Key, item.Record, insertFlags); err != nil {
				return nil, errors.Trace(err)
			}
		}
	}

	if env == nil {
		return nil, errors.Annotate(basic.ErrInvalidParameter, "empty dump stream")
	}
	if db != nil {
		if err := db.Close(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return env, nil
}

// Package datarecording stores simulation records in SQLite tables whose
// columns follow the fields of Go structs.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/structs"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DefaultBatchSize is the number of buffered entries that triggers a flush.
const DefaultBatchSize = 100000

// DataRecorder buffers entries and writes them into tables.
type DataRecorder interface {
	// CreateTable creates a table with one column per field of sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry of the type the table was created with.
	InsertData(tableName string, entry any)

	// ListTables returns the names of the created tables in order.
	ListTables() []string

	// Flush writes all the buffered entries.
	Flush()

	// Close flushes and closes the database.
	Close() error
}

// New creates a recorder that writes into path.sqlite3. An empty path picks
// a unique name. The buffered entries are flushed when the program exits
// through atexit.
func New(path string) DataRecorder {
	w := &sqliteWriter{
		dbName:    path,
		batchSize: DefaultBatchSize,
		tables:    make(map[string]*table),
	}

	w.open()

	atexit.Register(func() { w.Flush() })

	return w
}

// NewWithDB creates a recorder that writes into an opened database.
func NewWithDB(db *sql.DB) DataRecorder {
	w := &sqliteWriter{
		DB:        db,
		batchSize: DefaultBatchSize,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { w.Flush() })

	return w
}

type table struct {
	structType reflect.Type
	entries    []any
}

type sqliteWriter struct {
	*sql.DB

	dbName     string
	tables     map[string]*table
	batchSize  int
	entryCount int
	closed     bool
}

func (w *sqliteWriter) open() {
	if w.dbName == "" {
		w.dbName = "coherence_recording_" + xid.New().String()
	}

	filename := w.dbName + ".sqlite3"

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	w.DB = db
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func checkStructFields(entry any) error {
	t := reflect.TypeOf(entry)
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("entry of type %T is not a struct", entry)
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			return fmt.Errorf("field %s of %s is not exported",
				field.Name, t.Name())
		}

		if !isAllowedKind(field.Type.Kind()) {
			return fmt.Errorf("field %s of %s has unsupported kind %s",
				field.Name, t.Name(), field.Type.Kind())
		}
	}

	return nil
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) {
	if err := checkStructFields(sampleEntry); err != nil {
		panic(err)
	}

	if _, exists := w.tables[tableName]; exists {
		panic(fmt.Sprintf("table %s already exists", tableName))
	}

	fields := strings.Join(structs.Names(sampleEntry), ", \n\t")
	w.mustExecute(`CREATE TABLE ` + tableName +
		` (` + "\n\t" + fields + "\n" + `);`)

	w.tables[tableName] = &table{
		structType: reflect.TypeOf(sampleEntry),
	}
}

func (w *sqliteWriter) InsertData(tableName string, entry any) {
	t, exists := w.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != t.structType {
		panic(fmt.Sprintf("table %s stores %s, not %T",
			tableName, t.structType, entry))
	}

	t.entries = append(t.entries, entry)

	w.entryCount++
	if w.entryCount >= w.batchSize {
		w.Flush()
	}
}

func (w *sqliteWriter) ListTables() []string {
	names := make([]string, 0, len(w.tables))
	for name := range w.tables {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func (w *sqliteWriter) Flush() {
	if w.entryCount == 0 || w.closed {
		return
	}

	w.mustExecute("BEGIN TRANSACTION")
	defer w.mustExecute("COMMIT TRANSACTION")

	for _, name := range w.ListTables() {
		t := w.tables[name]
		if len(t.entries) == 0 {
			continue
		}

		w.flushTable(name, t)
	}

	w.entryCount = 0
}

func (w *sqliteWriter) flushTable(name string, t *table) {
	stmt := w.prepareInsert(name, t.entries[0])
	defer stmt.Close()

	for _, entry := range t.entries {
		v := reflect.ValueOf(entry)
		values := make([]any, 0, v.NumField())

		for i := 0; i < v.NumField(); i++ {
			values = append(values, v.Field(i).Interface())
		}

		if _, err := stmt.Exec(values...); err != nil {
			panic(err)
		}
	}

	t.entries = nil
}

func (w *sqliteWriter) Close() error {
	if w.closed {
		return nil
	}

	w.Flush()
	w.closed = true

	return w.DB.Close()
}

func (w *sqliteWriter) mustExecute(query string) sql.Result {
	res, err := w.Exec(query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute: %s\n", query)
		panic(err)
	}

	return res
}

func (w *sqliteWriter) prepareInsert(tableName string, entry any) *sql.Stmt {
	marks := structs.Names(entry)
	for i := range marks {
		marks[i] = "?"
	}

	stmt, err := w.Prepare("INSERT INTO " + tableName +
		" VALUES (" + strings.Join(marks, ", ") + ")")
	if err != nil {
		panic(err)
	}

	return stmt
}

package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sort"
)

// QueryParams narrows a query.
type QueryParams struct {
	// Where is the condition without the WHERE keyword, for example
	// "Cache = ? AND Hit = ?".
	Where string

	// Args fill the placeholders of Where.
	Args []any

	// Limit is the maximum number of rows to return. Zero means no limit.
	Limit int

	// Offset is the number of rows to skip.
	Offset int

	// OrderBy is the ordering without the ORDER BY keywords.
	OrderBy string
}

// DataReader reads the tables written by a DataRecorder back into structs.
type DataReader interface {
	// MapTable binds a table to the struct type of sampleEntry. A table must
	// be mapped before it is queried.
	MapTable(tableName string, sampleEntry any)

	// ListTables returns the mapped tables in order.
	ListTables() []string

	// Query returns pointers to the matching entries and the number of
	// matching rows ignoring Limit and Offset.
	Query(ctx context.Context, tableName string, params QueryParams) (
		results []any,
		totalCount int,
		err error,
	)

	// Close closes the database.
	Close() error
}

type sqliteReader struct {
	*sql.DB

	typeMap map[string]reflect.Type
}

// NewReader opens the SQLite file at path.
func NewReader(path string) (DataReader, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return NewReaderWithDB(db), nil
}

// NewReaderWithDB creates a reader on an opened database.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{
		DB:      db,
		typeMap: make(map[string]reflect.Type),
	}
}

func (r *sqliteReader) MapTable(tableName string, sampleEntry any) {
	r.typeMap[tableName] = reflect.TypeOf(sampleEntry)
}

func (r *sqliteReader) ListTables() []string {
	tables := make([]string, 0, len(r.typeMap))
	for name := range r.typeMap {
		tables = append(tables, name)
	}

	sort.Strings(tables)

	return tables
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	params QueryParams,
) ([]any, int, error) {
	structType, ok := r.typeMap[tableName]
	if !ok {
		return nil, 0, fmt.Errorf("no mapping found for table %s", tableName)
	}

	query := "SELECT * FROM " + tableName

	if params.Where != "" {
		query += " WHERE " + params.Where
	}

	if params.OrderBy != "" {
		query += " ORDER BY " + params.OrderBy
	}

	if params.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", params.Limit)
		if params.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", params.Offset)
		}
	}

	totalCount, err := r.count(ctx, tableName, params)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.QueryContext(ctx, query, params.Args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results, err := scanRows(rows, structType)
	if err != nil {
		return nil, 0, err
	}

	return results, totalCount, nil
}

func (r *sqliteReader) count(
	ctx context.Context,
	tableName string,
	params QueryParams,
) (int, error) {
	query := "SELECT COUNT(*) FROM " + tableName
	if params.Where != "" {
		query += " WHERE " + params.Where
	}

	var n int

	err := r.QueryRowContext(ctx, query, params.Args...).Scan(&n)
	if err != nil {
		return 0, err
	}

	return n, nil
}

func scanRows(rows *sql.Rows, structType reflect.Type) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	fieldMap := make(map[string]int)
	for i := 0; i < structType.NumField(); i++ {
		fieldMap[structType.Field(i).Name] = i
	}

	var results []any

	for rows.Next() {
		ptr := reflect.New(structType)
		val := ptr.Elem()
		targets := make([]any, len(columns))

		for i, col := range columns {
			if idx, ok := fieldMap[col]; ok {
				targets[i] = val.Field(idx).Addr().Interface()
			} else {
				var placeholder any
				targets[i] = &placeholder
			}
		}

		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}

		results = append(results, ptr.Interface())
	}

	return results, rows.Err()
}

func (r *sqliteReader) Close() error {
	return r.DB.Close()
}

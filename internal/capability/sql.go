package capability

import (
	"context"

	"github.com/askdb/askdb/internal/db"
	"github.com/askdb/askdb/internal/dbexec"
)

// RunSQLQuery is the capability name the translation layer invokes to
// execute a generated statement.
const RunSQLQuery = "run_sql_query"

// DescribeSchema exposes the database layout so the model can write
// statements against real tables.
const DescribeSchema = "describe_schema"

// RegisterSQL binds the run_sql_query capability to the executor.
func RegisterSQL(r *Registry, exec *dbexec.Executor) {
	r.Register(Descriptor{
		Name:        RunSQLQuery,
		Description: "Execute a single SQL statement against the database and return the resulting rows.",
		Parameters: map[string]ParamSpec{
			"sql": {
				Type:        "string",
				Description: "One SQL statement. Multiple statements separated by ';' are rejected.",
				Required:    true,
			},
		},
	}, func(ctx context.Context, args map[string]any) (*dbexec.Result, error) {
		sqlText, _ := args["sql"].(string)
		return exec.Execute(ctx, sqlText)
	})
}

// RegisterSchema binds the describe_schema capability to the database's
// introspection query.
func RegisterSchema(r *Registry, database *db.DB) {
	r.Register(Descriptor{
		Name:        DescribeSchema,
		Description: "List every table with its columns and column types.",
		Parameters:  map[string]ParamSpec{},
	}, func(ctx context.Context, _ map[string]any) (*dbexec.Result, error) {
		cols, err := database.DescribeSchema(ctx)
		if err != nil {
			return nil, err
		}
		result := &dbexec.Result{
			Columns: []string{"table", "column", "type"},
			Rows:    make([]map[string]any, 0, len(cols)),
		}
		for _, c := range cols {
			result.Rows = append(result.Rows, map[string]any{
				"table":  c.Table,
				"column": c.Column,
				"type":   c.Type,
			})
		}
		return result, nil
	})
}

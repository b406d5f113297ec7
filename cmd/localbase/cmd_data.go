package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andreyvit/localbase"
)

// filterFlags are the --eq, --neq and --in flags shared by data commands.
type filterFlags struct {
	eq  []string
	neq []string
	in  []string
}

func (ff *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&ff.eq, "eq", nil, "Keep rows where field=value (repeatable)")
	cmd.Flags().StringArrayVar(&ff.neq, "neq", nil, "Keep rows where field differs from value (repeatable)")
	cmd.Flags().StringArrayVar(&ff.in, "in", nil, "Keep rows where field is one of a JSON array, field=[v1,v2] (repeatable)")
}

func (ff *filterFlags) empty() bool {
	return len(ff.eq) == 0 && len(ff.neq) == 0 && len(ff.in) == 0
}

func (ff *filterFlags) apply(q *localbase.Query) (*localbase.Query, error) {
	for _, s := range ff.eq {
		field, v, err := parseCondition(s)
		if err != nil {
			return nil, err
		}
		q = q.Eq(field, v)
	}
	for _, s := range ff.neq {
		field, v, err := parseCondition(s)
		if err != nil {
			return nil, err
		}
		q = q.Neq(field, v)
	}
	for _, s := range ff.in {
		field, v, err := parseCondition(s)
		if err != nil {
			return nil, err
		}
		vals, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("--in %s: value must be a JSON array", s)
		}
		q = q.In(field, vals...)
	}
	return q, nil
}

// parseCondition splits "field=value". The value is decoded as JSON when it
// is valid JSON, and taken as a literal string otherwise.
func parseCondition(s string) (string, any, error) {
	field, raw, ok := strings.Cut(s, "=")
	if !ok || field == "" {
		return "", nil, fmt.Errorf("invalid condition %q, expected field=value", s)
	}
	return field, parseValue(raw), nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// parseRows accepts a JSON object or an array of objects.
func parseRows(s string) ([]localbase.Record, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var rows []localbase.Record
		if err := json.Unmarshal([]byte(s), &rows); err != nil {
			return nil, fmt.Errorf("invalid rows: %w", err)
		}
		return rows, nil
	}
	var row localbase.Record
	if err := json.Unmarshal([]byte(s), &row); err != nil {
		return nil, fmt.Errorf("invalid row: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("invalid row: expected a JSON object")
	}
	return []localbase.Record{row}, nil
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List tables with row counts and encoded sizes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *localbase.Client) error {
			names, err := c.DB.Tables()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, name := range names {
				st, err := c.DB.TableStats(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%-24s %8d rows %10d bytes\n", name, st.Rows, st.Size)
			}
			return nil
		})
	},
}

var (
	selectFilters filterFlags
	selectOrder   string
	selectDesc    bool
	selectLimit   int
	selectSingle  bool
)

var selectCmd = &cobra.Command{
	Use:   "select TABLE",
	Short: "Print rows matching the filters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *localbase.Client) error {
			q, err := selectFilters.apply(c.From(args[0]).Select("*"))
			if err != nil {
				return err
			}
			if selectOrder != "" {
				q = q.Order(selectOrder, !selectDesc)
			}
			if cmd.Flags().Changed("limit") {
				q = q.Limit(selectLimit)
			}
			logger.Debug("select", "query", q.String())
			if selectSingle {
				row, err := q.Single()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), row)
			}
			res, err := q.Fetch()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var insertCmd = &cobra.Command{
	Use:   "insert TABLE JSON",
	Short: "Insert a row (or an array of rows)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := parseRows(args[1])
		if err != nil {
			return err
		}
		return withClient(cmd, func(c *localbase.Client) error {
			res, err := c.From(args[0]).Insert(rows...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var updateFilters filterFlags

var updateCmd = &cobra.Command{
	Use:   "update TABLE JSON",
	Short: "Merge fields into every row matching the filters",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := parseRows(args[1])
		if err != nil {
			return err
		}
		if len(rows) != 1 {
			return fmt.Errorf("update takes a single JSON object")
		}
		return withClient(cmd, func(c *localbase.Client) error {
			q, err := updateFilters.apply(c.From(args[0]))
			if err != nil {
				return err
			}
			res, err := q.Update(rows[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var (
	deleteFilters filterFlags
	deleteAll     bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete TABLE",
	Short: "Delete rows matching the filters",
	Long: `Delete rows matching the filters. Deleting without filters removes every
row of the table and requires --all.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if deleteFilters.empty() && !deleteAll {
			return fmt.Errorf("refusing to delete every row of %s without --all", args[0])
		}
		return withClient(cmd, func(c *localbase.Client) error {
			q, err := deleteFilters.apply(c.From(args[0]))
			if err != nil {
				return err
			}
			return q.Delete()
		})
	},
}

var truncateCmd = &cobra.Command{
	Use:   "truncate TABLE",
	Short: "Remove a table entirely",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *localbase.Client) error {
			return c.DB.Truncate(args[0])
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print journaled changes, oldest first (requires --journal)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *localbase.Client) error {
			w := cmd.OutOrStdout()
			return c.DB.History(func(chg *localbase.Change) error {
				line, err := json.Marshal(chg)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(w, "%s\n", line)
				return err
			})
		})
	},
}

func init() {
	selectFilters.register(selectCmd)
	selectCmd.Flags().StringVar(&selectOrder, "order", "", "Sort by field")
	selectCmd.Flags().BoolVar(&selectDesc, "desc", false, "Sort descending")
	selectCmd.Flags().IntVar(&selectLimit, "limit", 0, "Return at most this many rows")
	selectCmd.Flags().BoolVar(&selectSingle, "single", false, "Require exactly one row and print it")

	updateFilters.register(updateCmd)

	deleteFilters.register(deleteCmd)
	deleteCmd.Flags().BoolVar(&deleteAll, "all", false, "Allow deleting without filters")
}

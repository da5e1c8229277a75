package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"agentcity.ai/internal/engine"
)

// Tables a StateUpdate may address. Anything else is a commit-time error
// that rolls the whole batch back.
var updatableTables = map[string]bool{
	engine.TableActors:       true,
	engine.TableAgentStates:  true,
	engine.TableWallets:      true,
	engine.TableTransactions: true,
	engine.TableOnchainJobs:  true,
}

// Gauge columns are clamped to [0,100] on delta writes.
var gaugeColumns = map[string]bool{
	"energy":  true,
	"hunger":  true,
	"health":  true,
	"social":  true,
	"fun":     true,
	"purpose": true,
}

// applyUpdate interprets one generic mutation descriptor inside tx. Column
// names are sorted before SQL is built so statement text is deterministic.
func applyUpdate(tx *sql.Tx, u engine.StateUpdate) error {
	if !updatableTables[u.Table] {
		return fmt.Errorf("state update addresses unknown table %q", u.Table)
	}
	switch u.Op {
	case engine.OpCreate:
		return applyCreate(tx, u)
	case engine.OpUpdate:
		return applyRowUpdate(tx, u)
	case engine.OpDelete:
		return applyDelete(tx, u)
	default:
		return fmt.Errorf("state update op %q on %s", u.Op, u.Table)
	}
}

func applyCreate(tx *sql.Tx, u engine.StateUpdate) error {
	if len(u.Data) == 0 {
		return fmt.Errorf("create on %s with no data", u.Table)
	}
	cols := sortedColumns(u.Data)
	args := make([]any, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	for _, c := range cols {
		if err := checkColumn(c); err != nil {
			return err
		}
		v, err := bindValue(u.Data[c])
		if err != nil {
			return fmt.Errorf("create %s.%s: %w", u.Table, c, err)
		}
		args = append(args, v)
		placeholders = append(placeholders, "?")
	}
	q := fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s)",
		u.Table, strings.Join(cols, ","), strings.Join(placeholders, ","))
	_, err := tx.Exec(q, args...)
	return err
}

func applyRowUpdate(tx *sql.Tx, u engine.StateUpdate) error {
	if len(u.Data) == 0 {
		return fmt.Errorf("update on %s with no data", u.Table)
	}
	if len(u.Where) == 0 {
		return fmt.Errorf("update on %s with no where clause", u.Table)
	}

	// Wallet mirrors are created lazily: a delta addressed to an account the
	// engine has never seen materializes its row first, so an inline
	// settlement to a fresh recipient or vault cannot fail the commit after
	// the ledger already moved the funds.
	if u.Table == engine.TableWallets {
		if actor, ok := u.Where["actor_id"].(string); ok && actor != "" {
			if _, err := tx.Exec(`
				INSERT INTO wallets(actor_id, balance_sbyte) VALUES(?, 0)
				ON CONFLICT(actor_id) DO NOTHING`, actor); err != nil {
				return err
			}
		}
	}

	var (
		sets []string
		args []any
	)
	for _, c := range sortedColumns(u.Data) {
		if err := checkColumn(c); err != nil {
			return err
		}
		if d, ok := u.Data[c].(engine.Delta); ok {
			if u.Table == engine.TableAgentStates && gaugeColumns[c] {
				sets = append(sets, fmt.Sprintf("%s = MIN(100, MAX(0, %s + ?))", c, c))
			} else {
				sets = append(sets, fmt.Sprintf("%s = %s + ?", c, c))
			}
			args = append(args, int64(d))
			continue
		}
		v, err := bindValue(u.Data[c])
		if err != nil {
			return fmt.Errorf("update %s.%s: %w", u.Table, c, err)
		}
		sets = append(sets, fmt.Sprintf("%s = ?", c))
		args = append(args, v)
	}

	where, whereArgs, err := whereClause(u.Where)
	if err != nil {
		return err
	}
	args = append(args, whereArgs...)

	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s", u.Table, strings.Join(sets, ", "), where)
	res, err := tx.Exec(q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update on %s matched no rows (%v)", u.Table, u.Where)
	}
	return nil
}

func applyDelete(tx *sql.Tx, u engine.StateUpdate) error {
	if len(u.Where) == 0 {
		return fmt.Errorf("delete on %s with no where clause", u.Table)
	}
	where, args, err := whereClause(u.Where)
	if err != nil {
		return err
	}
	_, err = tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s", u.Table, where), args...)
	return err
}

func whereClause(where map[string]any) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	for _, c := range sortedColumns(where) {
		if err := checkColumn(c); err != nil {
			return "", nil, err
		}
		v, err := bindValue(where[c])
		if err != nil {
			return "", nil, fmt.Errorf("where %s: %w", c, err)
		}
		conds = append(conds, fmt.Sprintf("%s = ?", c))
		args = append(args, v)
	}
	return strings.Join(conds, " AND "), args, nil
}

// bindValue converts descriptor values to sql arguments. Structured values
// (maps, slices) are stored as JSON text, matching the dynamic-payload
// columns.
func bindValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, int, int64, float64, bool:
		return v, nil
	case uint64:
		return int64(t), nil
	case engine.Delta:
		return nil, fmt.Errorf("delta outside update data")
	case map[string]any, []any, []string, engine.Params:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("unsupported value %T: %w", v, err)
		}
		return string(b), nil
	}
}

func sortedColumns(m map[string]any) []string {
	cols := make([]string, 0, len(m))
	for c := range m {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func checkColumn(c string) error {
	if c == "" {
		return fmt.Errorf("empty column name")
	}
	for _, r := range c {
		if (r < 'a' || r > 'z') && r != '_' && (r < '0' || r > '9') {
			return fmt.Errorf("bad column name %q", c)
		}
	}
	return nil
}

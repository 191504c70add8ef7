// Package db implements StateDB on SQLite through GORM. Nested
// transactions map to SQLite savepoints.
package db

import (
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/govm-net/multitest/context"
	"github.com/govm-net/multitest/core"
	"github.com/govm-net/multitest/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DBBalance is one (account, denomination) balance row
type DBBalance struct {
	Address string `gorm:"column:address;primaryKey;size:255"`
	Denom   string `gorm:"column:denom;primaryKey;size:128"`
	Amount  Amount `gorm:"column:amount;type:text;not null"`
}

// Amount is a balance stored as decimal text. SQLite integers are signed,
// so a uint64 column would reject amounts of 2^63 and above.
type Amount uint64

// Value implements driver.Valuer
func (a Amount) Value() (driver.Value, error) {
	return strconv.FormatUint(uint64(a), 10), nil
}

// Scan implements sql.Scanner
func (a *Amount) Scan(src any) error {
	var text string
	switch v := src.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	case int64:
		if v < 0 {
			return fmt.Errorf("negative amount %d", v)
		}
		*a = Amount(v)
		return nil
	default:
		return fmt.Errorf("unsupported amount type %T", src)
	}
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return fmt.Errorf("corrupt amount %q: %w", text, err)
	}
	*a = Amount(n)
	return nil
}

// TableName specifies the table name for DBBalance
func (DBBalance) TableName() string {
	return "balances"
}

// DBContract is an entry of the instance directory
type DBContract struct {
	Address string `gorm:"column:address;primaryKey;size:255"`
	CodeID  uint64 `gorm:"column:code_id;not null;index"`
	Creator string `gorm:"column:creator;not null;size:255"`
	Admin   string `gorm:"column:admin;size:255"`
	Label   string `gorm:"column:label;not null;size:255"`
	Created uint64 `gorm:"column:created_height;not null"`
}

// TableName specifies the table name for DBContract
func (DBContract) TableName() string {
	return "contracts"
}

// DBStoreEntry is a key of a contract store. Keys are hex encoded, which
// keeps SQL ordering equal to byte ordering.
type DBStoreEntry struct {
	Contract string `gorm:"column:contract_address;primaryKey;size:255"`
	Key      string `gorm:"column:store_key;primaryKey;size:1024"`
	Value    []byte `gorm:"column:store_value;type:blob;not null"`
}

// TableName specifies the table name for DBStoreEntry
func (DBStoreEntry) TableName() string {
	return "contract_store"
}

// Context implements types.StateDB using SQLite with GORM
type Context struct {
	db   *gorm.DB
	root bool
}

func init() {
	context.Register(context.DBContextType, func(params map[string]any) (types.StateDB, error) {
		return NewContext(params)
	})
}

// NewContext opens the database named by params["db_path"]. Without a path
// it opens a private in-memory database.
func NewContext(params map[string]any) (*Context, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	if path, ok := params["db_path"].(string); ok && path != "" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
		dsn = path
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// one connection: an open transaction owns the whole database
	sqlDB.SetMaxOpenConns(1)

	ctx := &Context{db: db, root: true}
	if err := ctx.initDB(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return ctx, nil
}

func (c *Context) initDB() error {
	err := c.db.AutoMigrate(
		&DBBalance{},
		&DBContract{},
		&DBStoreEntry{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Balance implements types.StateDB
func (c *Context) Balance(addr core.Addr, denom string) (uint64, error) {
	var balance DBBalance
	result := c.db.Where("address = ? AND denom = ?", addr.String(), denom).First(&balance)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if result.Error != nil {
		return 0, fmt.Errorf("failed to get balance: %w", result.Error)
	}
	return uint64(balance.Amount), nil
}

// AllBalances implements types.StateDB
func (c *Context) AllBalances(addr core.Addr) (core.Coins, error) {
	var rows []DBBalance
	err := c.db.Where("address = ? AND amount <> '0'", addr.String()).Order("denom").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	out := make(core.Coins, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.NewCoin(uint64(r.Amount), r.Denom))
	}
	return out, nil
}

// SetBalance implements types.StateDB
func (c *Context) SetBalance(addr core.Addr, coins core.Coins) error {
	if err := coins.Validate(); err != nil {
		return err
	}
	return c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("address = ?", addr.String()).Delete(&DBBalance{}).Error; err != nil {
			return fmt.Errorf("failed to clear balances: %w", err)
		}
		for _, coin := range coins {
			if coin.Amount == 0 {
				continue
			}
			row := DBBalance{Address: addr.String(), Denom: coin.Denom, Amount: Amount(coin.Amount)}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to create balance: %w", err)
			}
		}
		return nil
	})
}

// Transfer implements types.StateDB
func (c *Context) Transfer(from, to core.Addr, amount core.Coins) error {
	if err := amount.Validate(); err != nil {
		return err
	}
	return c.db.Transaction(func(tx *gorm.DB) error {
		for _, coin := range amount {
			if coin.Amount == 0 {
				continue
			}
			fromBalance, err := loadBalance(tx, from, coin.Denom)
			if err != nil {
				return err
			}
			if uint64(fromBalance.Amount) < coin.Amount {
				return fmt.Errorf("%w: %s has %d%s, needs %s", core.ErrInsufficientFunds, from, fromBalance.Amount, coin.Denom, coin)
			}
			if from == to {
				continue
			}
			toBalance, err := loadBalance(tx, to, coin.Denom)
			if err != nil {
				return err
			}
			sum, carry := bits.Add64(uint64(toBalance.Amount), coin.Amount, 0)
			if carry != 0 {
				return fmt.Errorf("%w: %s balance of %s", core.ErrOverflow, coin.Denom, to)
			}
			fromBalance.Amount -= Amount(coin.Amount)
			toBalance.Amount = Amount(sum)
			for _, row := range []*DBBalance{fromBalance, toBalance} {
				if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
					return fmt.Errorf("failed to update balance: %w", err)
				}
			}
		}
		return nil
	})
}

func loadBalance(tx *gorm.DB, addr core.Addr, denom string) (*DBBalance, error) {
	var row DBBalance
	result := tx.Where("address = ? AND denom = ?", addr.String(), denom).First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return &DBBalance{Address: addr.String(), Denom: denom}, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get balance: %w", result.Error)
	}
	return &row, nil
}

// Supply implements types.StateDB. The sum is taken in Go so overflow is
// reported the same way on every backend.
func (c *Context) Supply(denom string) (uint64, error) {
	var amounts []Amount
	if err := c.db.Model(&DBBalance{}).Where("denom = ?", denom).Pluck("amount", &amounts).Error; err != nil {
		return 0, fmt.Errorf("failed to sum supply: %w", err)
	}
	var total uint64
	for _, a := range amounts {
		var carry uint64
		total, carry = bits.Add64(total, uint64(a), 0)
		if carry != 0 {
			return 0, fmt.Errorf("%w: supply of %s", core.ErrOverflow, denom)
		}
	}
	return total, nil
}

// SetContract implements types.StateDB
func (c *Context) SetContract(rec types.ContractRecord) error {
	if err := rec.Address.Validate(); err != nil {
		return err
	}
	row := DBContract{
		Address: rec.Address.String(),
		CodeID:  rec.CodeID,
		Creator: rec.Creator.String(),
		Admin:   rec.Admin.String(),
		Label:   rec.Label,
		Created: rec.Created,
	}
	if err := c.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}
	return nil
}

// Contract implements types.StateDB
func (c *Context) Contract(addr core.Addr) (types.ContractRecord, error) {
	var row DBContract
	result := c.db.Where("address = ?", addr.String()).First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return types.ContractRecord{}, fmt.Errorf("%w: %s", core.ErrNoSuchContract, addr)
	}
	if result.Error != nil {
		return types.ContractRecord{}, fmt.Errorf("failed to get contract: %w", result.Error)
	}
	return types.ContractRecord{
		Address: core.Addr(row.Address),
		CodeID:  row.CodeID,
		Creator: core.Addr(row.Creator),
		Admin:   core.Addr(row.Admin),
		Label:   row.Label,
		Created: row.Created,
	}, nil
}

// ContractAddresses implements types.StateDB
func (c *Context) ContractAddresses() ([]core.Addr, error) {
	var addrs []string
	if err := c.db.Model(&DBContract{}).Order("address").Pluck("address", &addrs).Error; err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	out := make([]core.Addr, len(addrs))
	for i, a := range addrs {
		out[i] = core.Addr(a)
	}
	return out, nil
}

// Store implements types.StateDB
func (c *Context) Store(contract core.Addr) core.KVStore {
	return &store{db: c.db, contract: contract.String()}
}

// Transaction implements types.StateDB. GORM turns a Transaction on an open
// transaction into a savepoint.
func (c *Context) Transaction(fn func(tx types.StateDB) error) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Context{db: tx})
	})
}

// Close releases the database. Scoped contexts do not own it.
func (c *Context) Close() error {
	if !c.root {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// store implements core.KVStore on the contract_store table
type store struct {
	db       *gorm.DB
	contract string
}

func (s *store) Get(key []byte) ([]byte, error) {
	var entry DBStoreEntry
	result := s.db.Where("contract_address = ? AND store_key = ?", s.contract, hex.EncodeToString(key)).First(&entry)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get key: %w", result.Error)
	}
	return entry.Value, nil
}

func (s *store) Set(key, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty store key", core.ErrInvalidArgument)
	}
	if value == nil {
		value = []byte{}
	}
	entry := DBStoreEntry{Contract: s.contract, Key: hex.EncodeToString(key), Value: value}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

func (s *store) Delete(key []byte) error {
	err := s.db.Where("contract_address = ? AND store_key = ?", s.contract, hex.EncodeToString(key)).Delete(&DBStoreEntry{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (s *store) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	var entries []DBStoreEntry
	err := s.db.Where("contract_address = ? AND store_key LIKE ?", s.contract, hex.EncodeToString(prefix)+"%").
		Order("store_key").Find(&entries).Error
	if err != nil {
		return fmt.Errorf("failed to iterate store: %w", err)
	}
	for _, e := range entries {
		key, err := hex.DecodeString(strings.TrimSpace(e.Key))
		if err != nil {
			return fmt.Errorf("corrupt store key %q: %w", e.Key, err)
		}
		if !fn(key, e.Value) {
			break
		}
	}
	return nil
}

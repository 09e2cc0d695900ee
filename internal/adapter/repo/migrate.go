package repo

import (
	"context"
	"fmt"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
  id VARCHAR(64) PRIMARY KEY,
  farmer_id VARCHAR(64) NOT NULL,
  name VARCHAR(255) NOT NULL,
  price BIGINT NOT NULL,
  quantity BIGINT NOT NULL CHECK (quantity >= 0),
  version BIGINT NOT NULL,
  created_at DATETIME(6) NOT NULL,
  INDEX idx_products_farmer (farmer_id)
)`,
	`CREATE TABLE IF NOT EXISTS carts (
  user_id VARCHAR(64) PRIMARY KEY,
  version BIGINT NOT NULL,
  updated_at DATETIME(6) NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
  user_id VARCHAR(64) NOT NULL,
  product_id VARCHAR(64) NOT NULL,
  quantity BIGINT NOT NULL,
  added_at DATETIME(6) NOT NULL,
  position INT NOT NULL,
  PRIMARY KEY (user_id, product_id)
)`,
	`CREATE TABLE IF NOT EXISTS orders (
  id VARCHAR(64) PRIMARY KEY,
  buyer_id VARCHAR(64) NOT NULL,
  total_price BIGINT NOT NULL,
  shipping_json TEXT NOT NULL,
  payment_method VARCHAR(32) NOT NULL,
  status VARCHAR(32) NOT NULL,
  payment_status VARCHAR(32) NOT NULL,
  transaction_reference VARCHAR(128) NOT NULL,
  payment_channel VARCHAR(64) NOT NULL DEFAULT '',
  paid_at DATETIME(6) NULL,
  amount_paid BIGINT NULL,
  version BIGINT NOT NULL,
  created_at DATETIME(6) NOT NULL,
  updated_at DATETIME(6) NOT NULL,
  UNIQUE KEY uq_orders_reference (transaction_reference),
  INDEX idx_orders_buyer (buyer_id, created_at)
)`,
	`CREATE TABLE IF NOT EXISTS order_items (
  order_id VARCHAR(64) NOT NULL,
  position INT NOT NULL,
  product_id VARCHAR(64) NOT NULL,
  farmer_id VARCHAR(64) NOT NULL,
  quantity BIGINT NOT NULL,
  price_at_purchase BIGINT NOT NULL,
  PRIMARY KEY (order_id, position),
  INDEX idx_order_items_farmer (farmer_id)
)`,
	`CREATE TABLE IF NOT EXISTS notifications (
  id VARCHAR(64) PRIMARY KEY,
  user_id VARCHAR(64) NOT NULL,
  title VARCHAR(255) NOT NULL,
  message TEXT NOT NULL,
  type VARCHAR(32) NOT NULL,
  link VARCHAR(255) NOT NULL DEFAULT '',
  metadata_json TEXT NOT NULL,
  is_read BOOLEAN NOT NULL DEFAULT FALSE,
  created_at DATETIME(6) NOT NULL,
  INDEX idx_notifications_unread (user_id, is_read, created_at)
)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  farmer_id TEXT NOT NULL,
  name TEXT NOT NULL,
  price BIGINT NOT NULL,
  quantity BIGINT NOT NULL CHECK (quantity >= 0),
  version BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_products_farmer ON products (farmer_id)`,
	`CREATE TABLE IF NOT EXISTS carts (
  user_id TEXT PRIMARY KEY,
  version BIGINT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
  user_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  quantity BIGINT NOT NULL,
  added_at TIMESTAMPTZ NOT NULL,
  position INT NOT NULL,
  PRIMARY KEY (user_id, product_id)
)`,
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  total_price BIGINT NOT NULL,
  shipping_json TEXT NOT NULL,
  payment_method TEXT NOT NULL,
  status TEXT NOT NULL,
  payment_status TEXT NOT NULL,
  transaction_reference TEXT NOT NULL UNIQUE,
  payment_channel TEXT NOT NULL DEFAULT '',
  paid_at TIMESTAMPTZ NULL,
  amount_paid BIGINT NULL,
  version BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders (buyer_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS order_items (
  order_id TEXT NOT NULL,
  position INT NOT NULL,
  product_id TEXT NOT NULL,
  farmer_id TEXT NOT NULL,
  quantity BIGINT NOT NULL,
  price_at_purchase BIGINT NOT NULL,
  PRIMARY KEY (order_id, position)
)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_farmer ON order_items (farmer_id)`,
	`CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  type TEXT NOT NULL,
  link TEXT NOT NULL DEFAULT '',
  metadata_json TEXT NOT NULL,
  is_read BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications (user_id, is_read, created_at)`,
}

// Migrate creates the tables if they do not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := mysqlSchema
	if d.dialect == Postgres {
		stmts = postgresSchema
	}
	for i, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}

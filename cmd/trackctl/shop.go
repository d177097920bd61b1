package main

import (
	"github.com/syssam/tracker/model"
)

// Customer places orders.
type Customer struct {
	ID   int64
	Name string
}

// Order belongs to a customer.
type Order struct {
	ID         int64
	CustomerID int64
	Note       string
}

func int64Of(v any) int64 {
	n, _ := v.(int64)
	return n
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// shopModel maps Customer and Order onto the customers and orders tables.
func shopModel() (*model.Model, error) {
	return model.Build(
		model.Type("Customer").
			Fields(
				model.Int64("ID").Key().Generated(),
				model.String("Name"),
			).
			Bind(model.Struct(model.Fields[Customer]{
				"ID":   {Get: func(c *Customer) any { return c.ID }, Set: func(c *Customer, v any) { c.ID = int64Of(v) }},
				"Name": {Get: func(c *Customer) any { return c.Name }, Set: func(c *Customer, v any) { c.Name = stringOf(v) }},
			})),
		model.Type("Order").
			Fields(
				model.Int64("ID").Key().Generated(),
				model.Int64("CustomerID"),
				model.String("Note"),
			).
			Edges(model.From("Customer", "Customer").Field("CustomerID").Ref("Orders").OnDelete(model.Cascade)).
			Bind(model.Struct(model.Fields[Order]{
				"ID":         {Get: func(o *Order) any { return o.ID }, Set: func(o *Order, v any) { o.ID = int64Of(v) }},
				"CustomerID": {Get: func(o *Order) any { return o.CustomerID }, Set: func(o *Order, v any) { o.CustomerID = int64Of(v) }},
				"Note":       {Get: func(o *Order) any { return o.Note }, Set: func(o *Order, v any) { o.Note = stringOf(v) }},
			})),
	)
}

var ddl = map[string][]string{
	"sqlite": {
		`CREATE TABLE IF NOT EXISTS customers (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS orders (id INTEGER PRIMARY KEY AUTOINCREMENT, customer_id INTEGER NOT NULL REFERENCES customers(id) ON DELETE CASCADE, note TEXT NOT NULL DEFAULT '')`,
	},
	"postgres": {
		`CREATE TABLE IF NOT EXISTS customers (id BIGSERIAL PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS orders (id BIGSERIAL PRIMARY KEY, customer_id BIGINT NOT NULL REFERENCES customers(id) ON DELETE CASCADE, note TEXT NOT NULL DEFAULT '')`,
	},
	"mysql": {
		"CREATE TABLE IF NOT EXISTS customers (id BIGINT AUTO_INCREMENT PRIMARY KEY, name VARCHAR(255) NOT NULL)",
		"CREATE TABLE IF NOT EXISTS orders (id BIGINT AUTO_INCREMENT PRIMARY KEY, customer_id BIGINT NOT NULL, note VARCHAR(255) NOT NULL DEFAULT '', FOREIGN KEY (customer_id) REFERENCES customers(id) ON DELETE CASCADE)",
	},
}

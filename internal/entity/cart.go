package domain

import "time"

// MaxCartItemQuantity bounds a single cart line.
const MaxCartItemQuantity = 100

type CartItem struct {
	ProductID string    `json:"productId"`
	Quantity  int64     `json:"quantity"`
	AddedAt   time.Time `json:"addedAt"`
}

// Cart holds one line per product, in insertion order.
type Cart struct {
	UserID    string     `json:"userId"`
	Items     []CartItem `json:"items"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (c *Cart) Find(productID string) (int, bool) {
	for i, it := range c.Items {
		if it.ProductID == productID {
			return i, true
		}
	}
	return -1, false
}

func (c *Cart) Remove(productID string) bool {
	i, ok := c.Find(productID)
	if !ok {
		return false
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return true
}

func (c Cart) Clone() Cart {
	cp := c
	cp.Items = append([]CartItem(nil), c.Items...)
	return cp
}

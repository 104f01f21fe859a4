package catalog

// Product is one sellable item in the store catalog.
type Product struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
}

// Products returns the fixed catalog in display order. The catalog is static
// by design; the storefront has no inventory backend.
func Products() []Product {
	return []Product{
		{ID: 1, Name: "Laptop", Description: "High-performance laptop", Price: 1299.99, Category: "Electronics"},
		{ID: 2, Name: "Coffee Mug", Description: "Keep your coffee hot", Price: 15.99, Category: "Office"},
		{ID: 3, Name: "Keyboard", Description: "Mechanical keyboard", Price: 89.99, Category: "Electronics"},
	}
}

package data

import "fmt"

// Product identifies a device family. Each family stores its files under its
// own top-level directory on the device, named after PathName.
type Product struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// PathName is the remote directory name of the product: the product id as
// four lowercase hex digits.
func (p Product) PathName() string {
	return fmt.Sprintf("%04x", p.ID)
}

// Products is the fixed set of namespaces a listing pass walks, in order.
var Products = []Product{
	{ID: 0x0900, Name: "skycontroller"},
	{ID: 0x0901, Name: "bebop"},
	{ID: 0x0902, Name: "jumpingsumo"},
	{ID: 0x0903, Name: "skycontroller2"},
	{ID: 0x0905, Name: "jumpingsumo-evo"},
	{ID: 0x0906, Name: "jumpingsumo-evo-race"},
	{ID: 0x0907, Name: "rolling-spider"},
	{ID: 0x090c, Name: "bebop2"},
	{ID: 0x090e, Name: "disco"},
}

// ProductByPathName looks up a product from its remote directory name.
func ProductByPathName(name string) (Product, bool) {
	for _, p := range Products {
		if p.PathName() == name {
			return p, true
		}
	}
	return Product{}, false
}

// ProductByID looks up a product from its numeric id.
func ProductByID(id int) (Product, bool) {
	for _, p := range Products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

package domain

import "strconv"

// OrderBook es el libro de un token del CLOB. Bids de mayor a menor precio,
// asks de menor a mayor.
type OrderBook struct {
	TokenID string
	Bids    []BookEntry
	Asks    []BookEntry
}

// BookEntry es un nivel de precio: precio por share y shares disponibles.
type BookEntry struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// ComplementAsks convierte los bids de este token en asks del token contrario.
// En un mercado binario, comprar NO a 1-p equivale a vender YES a p, así que
// un bid YES (p, size) es un ask NO (1-p, size). El orden se conserva:
// bids descendentes producen asks ascendentes.
func (ob OrderBook) ComplementAsks() []BookEntry {
	out := make([]BookEntry, 0, len(ob.Bids))
	for _, b := range ob.Bids {
		if b.Price <= 0 || b.Price >= 1 || b.Size <= 0 {
			continue
		}
		out = append(out, BookEntry{Price: 1 - b.Price, Size: b.Size})
	}
	return out
}

// AskSideFor elige el lado del libro contra el que se compra.
// buy_yes consume asks YES; buy_no consume asks NO y, si el book NO no
// tiene asks, los bids YES complementados.
func AskSideFor(side Side, yesBook, noBook *OrderBook) []BookEntry {
	switch side {
	case SideBuyYes:
		if yesBook == nil {
			return nil
		}
		return yesBook.Asks
	case SideBuyNo:
		if noBook != nil && len(noBook.Asks) > 0 {
			return noBook.Asks
		}
		if yesBook != nil {
			return yesBook.ComplementAsks()
		}
	}
	return nil
}

// ParsePrice lee un precio o tamaño del CLOB. Un valor ilegible es 0 y el
// nivel se descarta al mapear.
func ParsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

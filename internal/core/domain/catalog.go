package domain

import "strings"

// DeletionStrategy selects how a soft delete is expressed upstream.
type DeletionStrategy string

// Available deletion strategies.
const (
	// DeleteDeactivate sets Active=false. Used for master data.
	DeleteDeactivate DeletionStrategy = "deactivate"

	// DeleteVoidAnnotate prefixes DocNumber with VoidPrefix and adds a
	// private note. Used for transactions, which reject hard deletion.
	DeleteVoidAnnotate DeletionStrategy = "void_annotate"

	// DeleteAnnotate prefixes PrivateNote with VoidPrefix. Used for
	// transactions that carry no DocNumber.
	DeleteAnnotate DeletionStrategy = "annotate"
)

// VoidPrefix marks a transaction as cancelled.
const VoidPrefix = "VOID-"

// Condition is one equality predicate on a record field.
type Condition struct {
	Field string
	Value any
}

// Matches returns true if the record's field equals the condition value.
func (c Condition) Matches(r Record) bool {
	v, ok := r.Get(c.Field)
	if !ok {
		return false
	}
	return formatScalar(v) == formatScalar(c.Value)
}

// Query describes an upstream query against one physical type.
type Query struct {
	Entity     string
	Where      []Condition
	MaxResults int
}

// Matches returns true if r satisfies every condition.
func (q Query) Matches(r Record) bool {
	for _, c := range q.Where {
		if !c.Matches(r) {
			return false
		}
	}
	return true
}

// EntityDescriptor maps a logical entity name to its physical upstream type
// and the filter that narrows it.
type EntityDescriptor struct {
	// Name is the logical name callers use, e.g. "Check".
	Name string `json:"name"`
	// Label is shown in selection lists.
	Label string `json:"label"`
	// PhysicalType is the upstream type queried, e.g. "Purchase".
	PhysicalType string `json:"physical_type"`
	// Filter is ANDed into every query. Empty for unaliased types.
	Filter []Condition `json:"-"`
	// Deletion is the soft-delete strategy.
	Deletion DeletionStrategy `json:"deletion"`
	// Importable is true if rows may be created or updated from a spreadsheet.
	Importable bool `json:"importable"`
}

// IsAlias returns true if the logical name differs from the physical type.
func (d EntityDescriptor) IsAlias() bool {
	return d.Name != d.PhysicalType
}

// Apply returns the records matching the descriptor filter.
// Applying it to its own output returns the same set.
func (d EntityDescriptor) Apply(records []Record) []Record {
	if len(d.Filter) == 0 {
		return records
	}
	q := Query{Where: d.Filter}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if q.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// IsCancelled returns true if the record has already been soft-deleted
// and must be hidden from default queries.
func (d EntityDescriptor) IsCancelled(r Record) bool {
	switch d.Deletion {
	case DeleteDeactivate:
		v, ok := r.Get("Active")
		return ok && formatScalar(v) == "false"
	case DeleteVoidAnnotate:
		return strings.HasPrefix(r.String("DocNumber"), VoidPrefix)
	case DeleteAnnotate:
		return strings.HasPrefix(r.String("PrivateNote"), VoidPrefix)
	default:
		return false
	}
}

// Catalog is the ordered, static set of entity types offered to users.
type Catalog struct {
	entries []EntityDescriptor
	index   map[string]int
}

// NewCatalog builds a catalog from descriptors. Later duplicates win.
func NewCatalog(entries ...EntityDescriptor) *Catalog {
	c := &Catalog{index: make(map[string]int, len(entries))}
	for _, e := range entries {
		if i, ok := c.index[e.Name]; ok {
			c.entries[i] = e
			continue
		}
		c.index[e.Name] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c
}

// Lookup resolves a logical entity name.
func (c *Catalog) Lookup(name string) (EntityDescriptor, bool) {
	i, ok := c.index[name]
	if !ok {
		return EntityDescriptor{}, false
	}
	return c.entries[i], true
}

// List returns the descriptors in display order.
func (c *Catalog) List() []EntityDescriptor {
	out := make([]EntityDescriptor, len(c.entries))
	copy(out, c.entries)
	return out
}

func master(name, label string) EntityDescriptor {
	return EntityDescriptor{Name: name, Label: label, PhysicalType: name, Deletion: DeleteDeactivate, Importable: true}
}

func txn(name, label string) EntityDescriptor {
	return EntityDescriptor{Name: name, Label: label, PhysicalType: name, Deletion: DeleteVoidAnnotate, Importable: true}
}

// DefaultCatalog returns the entity types supported by the accounting API.
func DefaultCatalog() *Catalog {
	check := txn("Check", "Checks")
	check.PhysicalType = "Purchase"
	check.Filter = []Condition{{Field: "PaymentType", Value: "Check"}}

	cardCredit := txn("CreditCardCredit", "Credit Card Credits")
	cardCredit.PhysicalType = "Purchase"
	cardCredit.Filter = []Condition{
		{Field: "PaymentType", Value: "CreditCard"},
		{Field: "Credit", Value: true},
	}

	// Neither has a DocNumber to mark.
	payment := txn("Payment", "Payments")
	payment.Deletion = DeleteAnnotate
	transfer := txn("Transfer", "Transfers")
	transfer.Deletion = DeleteAnnotate

	return NewCatalog(
		master("Customer", "Customers"),
		master("Vendor", "Vendors"),
		master("Employee", "Employees"),
		master("Item", "Products & Services"),
		master("Account", "Chart of Accounts"),
		txn("Invoice", "Invoices"),
		txn("Bill", "Bills"),
		payment,
		txn("BillPayment", "Bill Payments"),
		txn("Purchase", "Expenses"),
		check,
		cardCredit,
		txn("Estimate", "Estimates"),
		txn("SalesReceipt", "Sales Receipts"),
		txn("CreditMemo", "Credit Memos"),
		txn("JournalEntry", "Journal Entries"),
		txn("Deposit", "Deposits"),
		transfer,
	)
}

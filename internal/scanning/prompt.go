package scanning

import "strings"

// notAvailable is what the models are told to emit for fields they cannot read
const notAvailable = "N/A"

// defaultCategory is used when the model returns nothing or something off the list
const defaultCategory = "Other"

// Categories is the fixed catalogue a receipt may be filed under.
var Categories = []string{
	"Building Materials", "Hardware & Tools", "Paint & Finishes", "Plumbing & Sanitary", "Electrical Supplies",
	"Fuel & Lubricants", "Vehicle Maintenance", "Transport Services", "Energy & Utilities",
	"Seeds & Inputs", "Fertilizers & Chemicals", "Irrigation Supplies", "Farm Tools & Equipment",
	"Animal Feed & Supplements", "Veterinary Services", "Livestock & Poultry",
	"Crop Harvesting & Processing", "Greenhouse Supplies", "Agro Consultancy & Training",
	"Furniture & Fixtures", "Electronics & Appliances", "Utensils & Cutlery",
	"Cleaning Supplies", "Stationery & Office Supplies",
	"Groceries & Provisions", "Perishables", "Beverages", "Restaurant & Catering",
	"Clothing & Footwear", "Personal Care & Beauty", "Health & Medicine", "Baby & Kids Supplies",
	"Phones & Accessories", "Computers & IT Equipment", "Internet & Airtime",
	"Gifts & Donations", "Entertainment & Leisure", "Education & Learning", "Subscriptions & Memberships",
	"Raw Materials", "Packaging Supplies", "Marketing & Branding", "Employee Salaries & Wages",
	"Professional Services", "Licenses & Permits",
	"Rent & Lease", "Land & Property Purchases", "Security & Surveillance",
	"Repairs & Maintenance", "Emergency Purchases",
}

var categorySet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Categories))
	for _, c := range Categories {
		m[c] = struct{}{}
	}
	return m
}()

// normalizeCategory returns the category if it is on the list, otherwise "Other"
func normalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	if _, ok := categorySet[category]; ok {
		return category
	}
	return defaultCategory
}

// fieldKind is the schema type of an extracted field
type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindBool
)

// fieldSpec describes one extracted field; it is turned into a response schema
// for each model provider
type fieldSpec struct {
	Name        string
	Kind        fieldKind
	Description string
}

var receiptFields = []fieldSpec{
	{"supplier", kindString, "Name of the supplier/store"},
	{"totalAmount", kindString, "Total amount including currency symbol if present"},
	{"taxAmount", kindString, "Tax amount if available"},
	{"receiptDate", kindString, "Date in MM/DD/YYYY or DD/MM/YYYY format"},
	{"category", kindString, "Category based on supplier and items - must be EXACTLY one of the predefined categories"},
	{"invoiceNumber", kindString, "Generic invoice number if available"},
	{"kraPin", kindString, "KRA PIN if available"},
	{"cuInvoice", kindString, "CU invoice number if available"},
}

var lineItemFields = []fieldSpec{
	{"name", kindString, "Name of the item"},
	{"quantity", kindNumber, "Quantity purchased"},
	{"price", kindString, "Price per unit including currency if present"},
	{"tax", kindString, "Tax charged on the item if shown"},
	{"isZeroRated", kindBool, "True when the item is marked zero-rated or tax exempt"},
}

// receiptScanPrompt is the shared prompt used by all LLM providers for scanning receipts
var receiptScanPrompt = `Extract receipt details from this image and categorize it. Return only JSON matching the provided schema.

INSTRUCTIONS:
- For amounts, include currency symbols if present
- For missing fields, use 'N/A'
- Ensure dates are in MM/DD/YYYY format if possible
- For each line item, report the tax charged if printed, and set isZeroRated to true when the item is marked zero-rated (often "Z" or "0%")

For the category field, analyze the supplier name and items, then choose EXACTLY ONE category from this list:

` + quotedCategories() + `

Return the EXACT category name from the list above.

Return ONLY valid JSON with the keys: supplier, totalAmount, taxAmount, receiptDate, category, invoiceNumber, kraPin, cuInvoice, items (array of {name, quantity, price, tax, isZeroRated}).
Do not include any text before or after the JSON.`

func quotedCategories() string {
	quoted := make([]string, len(Categories))
	for i, c := range Categories {
		quoted[i] = `"` + c + `"`
	}
	return strings.Join(quoted, ", ")
}

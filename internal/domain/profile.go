package domain

// Address is the optional postal address captured by the donation form.
// Field names follow the gateway's address vocabulary.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// DonorProfile carries the contact fields submitted with a donation request.
// It is the write-side view of a Donor: the repo upserts from it and the
// gateway creates customers from it.
type DonorProfile struct {
	Email   string   `json:"email"`
	Name    string   `json:"name"`
	Phone   string   `json:"phone,omitempty"`
	Address *Address `json:"address,omitempty"`
}

// Apply copies the profile's contact fields onto a Donor record.
func (p DonorProfile) Apply(d *Donor) {
	d.Email = p.Email
	d.Name = p.Name
	d.Phone = p.Phone
	if a := p.Address; a != nil {
		d.AddressLine1 = a.Line1
		d.AddressLine2 = a.Line2
		d.City = a.City
		d.State = a.State
		d.PostalCode = a.PostalCode
		d.Country = a.Country
	}
}

package listing

// CreateListingRequest is the body of POST /listings
type CreateListingRequest struct {
	Title        string `json:"title" validate:"required,min=3,max=200"`
	Description  string `json:"description" validate:"max=5000"`
	Price        int64  `json:"price" validate:"required,gt=0"`
	Address      string `json:"address" validate:"required,max=500"`
	City         string `json:"city" validate:"required,max=100"`
	Bedrooms     int    `json:"bedrooms" validate:"gte=0,lte=50"`
	Bathrooms    int    `json:"bathrooms" validate:"gte=0,lte=50"`
	ListingType  string `json:"listing_type" validate:"required,listing_type"`
	PropertyKind string `json:"property_kind" validate:"required,property_kind"`
	Publish      bool   `json:"publish"`
}

// UpdateListingRequest is the body of PATCH /listings/{listingID}.
// Nil fields are left unchanged.
type UpdateListingRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=3,max=200"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
	Price       *int64  `json:"price" validate:"omitempty,gt=0"`
	Address     *string `json:"address" validate:"omitempty,max=500"`
	City        *string `json:"city" validate:"omitempty,max=100"`
	Bedrooms    *int    `json:"bedrooms" validate:"omitempty,gte=0,lte=50"`
	Bathrooms   *int    `json:"bathrooms" validate:"omitempty,gte=0,lte=50"`
}

// ListFilters narrows the public listing feed
type ListFilters struct {
	City        string
	ListingType string
	Limit       int
	Offset      int
}

// DeleteListingResponse reports the delete and whether the publish credit
// came back. Refunds are best effort; a false here with deleted true means
// the listing is gone but the credit is not.
type DeleteListingResponse struct {
	Deleted  bool `json:"deleted"`
	Refunded bool `json:"refunded"`
}

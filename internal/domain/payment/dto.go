package payment

// CreateOrderRequest is the body of POST /payments/orders
type CreateOrderRequest struct {
	PackageName string `json:"package_name" validate:"required"`
}

// CreateOrderResponse returns the provider order the client checkout needs
type CreateOrderResponse struct {
	OrderID     string `json:"order_id"`
	Amount      int    `json:"amount"`
	Currency    string `json:"currency"`
	Credits     int    `json:"credits"`
	PackageName string `json:"package_name"`
	KeyID       string `json:"key_id"`
}

// VerifyPaymentRequest is the body of POST /payments/verify
type VerifyPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

// VerifyPaymentResponse reports the settled purchase
type VerifyPaymentResponse struct {
	CreditsAdded int    `json:"credits_added"`
	NewBalance   int    `json:"new_balance"`
	OrderID      string `json:"order_id"`
	PaymentID    string `json:"payment_id"`
}

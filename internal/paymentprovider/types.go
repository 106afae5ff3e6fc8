package paymentprovider

// InitializeRequest запрос на создание платежа.
// Сумма указывается в кобо, reference генерируется на нашей стороне.
type InitializeRequest struct {
	Email     string            `json:"email" validate:"required,email"`
	Amount    int               `json:"amount" validate:"required,gt=0"`
	Reference string            `json:"reference" validate:"required"`
	Currency  string            `json:"currency,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// InitializeResponse ответ Paystack на создание платежа.
type InitializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// VerifyResponse ответ Paystack на проверку платежа по reference.
type VerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status   string            `json:"status"` // success | failed | abandoned
		Amount   int               `json:"amount"`
		Currency string            `json:"currency"`
		Metadata map[string]string `json:"metadata"`
	} `json:"data"`
}

// WebhookPayload тело события webhook от Paystack.
type WebhookPayload struct {
	Event string `json:"event"` // например charge.success
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int    `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

package dto

import "github.com/ignatzorin/escrow-backend/internal/models"

// ErrorResponse — стандартный ответ с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse — стандартный успешный ответ.
type SuccessResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OrderResponse — заказ с выведенным отображаемым статусом и уровнем защиты.
type OrderResponse struct {
	models.Order
	DisplayStatus   string `json:"display_status"`
	ProtectionLevel string `json:"protection_level"`
}

// NewOrderResponse собирает ответ по заказу.
func NewOrderResponse(order *models.Order, protectionThreshold float64) OrderResponse {
	return OrderResponse{
		Order:           *order,
		DisplayStatus:   order.DisplayStatus(),
		ProtectionLevel: order.ProtectionLevel(protectionThreshold),
	}
}

// MyOrdersResponse — заказы пользователя по ролям в сделках.
type MyOrdersResponse struct {
	AsBuyer  []OrderResponse `json:"as_buyer"`
	AsSeller []OrderResponse `json:"as_seller"`
}

// SweepResponse — итог прохода автовыплаты.
type SweepResponse struct {
	Released int `json:"released"`
}

// UploadResponse — результат загрузки артефакта.
type UploadResponse struct {
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	Class    string `json:"class"`
	FileName string `json:"file_name"`
}

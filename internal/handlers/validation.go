package handlers

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type depositRequest struct {
	Amount        string `json:"amount" validate:"required"`
	PaymentMethod string `json:"payment_method" validate:"required,oneof=sbp bank_transfer"`
}

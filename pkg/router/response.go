package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/log"
)

type Response struct {
	Status  bool        `json:"status"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func logResponse(c *fiber.Ctx, code int, message string) {
	line := fmt.Sprintf("%d %v", code, message)
	if http.StatusText(code) == message || c.OriginalURL() == BaseURL {
		line = fmt.Sprintf("%d %v", code, http.StatusText(code))
	}
	if code >= http.StatusBadRequest {
		log.Print(c).Error(line)
		return
	}
	log.Print(c).Info(line)
}

func respond(c *fiber.Ctx, code int, message string, data interface{}) error {
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(code)
	}

	response := Response{
		Status:  code < http.StatusBadRequest,
		Code:    code,
		Message: message,
		Data:    data,
	}
	if !response.Status {
		response.Error = message
	}

	logResponse(c, code, message)
	return c.Status(code).JSON(response)
}

func ResponseSuccess(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusOK, message, nil)
}

func ResponseSuccessWithData(c *fiber.Ctx, message string, data interface{}) error {
	return respond(c, http.StatusOK, message, data)
}

func ResponseSuccessWithHTML(c *fiber.Ctx, html string) error {
	logResponse(c, http.StatusOK, http.StatusText(http.StatusOK))
	c.Type("html", "utf-8")
	return c.Status(http.StatusOK).SendString(html)
}

func ResponseCreatedWithData(c *fiber.Ctx, message string, data interface{}) error {
	return respond(c, http.StatusCreated, message, data)
}

func ResponseAccepted(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusAccepted, message, nil)
}

func ResponseBadRequest(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusBadRequest, message, nil)
}

func ResponseUnauthorized(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusUnauthorized, message, nil)
}

func ResponseNotFound(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusNotFound, message, nil)
}

func ResponseConflict(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusConflict, message, nil)
}

func ResponseTooManyRequests(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusTooManyRequests, message, nil)
}

func ResponseInternalError(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusInternalServerError, message, nil)
}

func ResponseBadGateway(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusBadGateway, message, nil)
}

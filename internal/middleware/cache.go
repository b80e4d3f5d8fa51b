package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// NoStore marks responses as uncacheable. Predictions and feedback carry
// health data and must not be kept by browsers or proxies.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// Cacheable lets clients keep GET responses of slowly changing reference
// data, such as the symptom catalog, for maxAge seconds.
func Cacheable(maxAge int) gin.HandlerFunc {
	value := "public, max-age=" + strconv.Itoa(maxAge)
	return func(c *gin.Context) {
		if c.Request.Method == "GET" {
			c.Header("Cache-Control", value)
		} else {
			c.Header("Cache-Control", "no-store")
		}
		c.Next()
	}
}

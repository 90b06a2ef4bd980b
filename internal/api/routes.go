package api

import (
	"github.com/gin-gonic/gin"

	"github.com/myhometown/textline/internal/sms"
)

// SetupRoutes configures the Gin engine with all messaging routes.
func SetupRoutes(router gin.IRouter, sender BatchSender, dispatcher ScheduledDispatcher, monitor *sms.StreamMonitor, updater StatusApplier) {
	sendHandler := NewSendTextsHandler(sender)
	scheduledHandler := NewScheduledTextsHandler(dispatcher)
	monitorHandler := NewMonitorHandler(monitor)
	callbackHandler := NewCallbackHandler(updater)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/send-texts", sendHandler.SendTexts)

		scheduled := v1.Group("/scheduled-texts")
		{
			scheduled.POST("/send", scheduledHandler.SendScheduled)
		}

		monitorGroup := v1.Group("/monitor")
		{
			monitorGroup.GET("", monitorHandler.GetStatus)
			monitorGroup.POST("", monitorHandler.PostAction)
		}

		v1.POST("/carrier/status-callback", callbackHandler.StatusCallback)
	}
}

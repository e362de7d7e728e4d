// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes wires the pipeline's HTTP surface onto router.
// authMiddleware is an injectable slot: pass gin.HandlerFunc(func(c
// *gin.Context){}) for the open-source no-auth default, or a real bearer
// token validator for a deployment that needs one.
func SetupRoutes(router *gin.Engine, s *Server, authMiddleware gin.HandlerFunc) {
	router.GET("/health", HealthCheck)
	router.GET("/ready", s.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1", authMiddleware)
	{
		tasks := v1.Group("/requirement-tasks")
		{
			tasks.POST("", s.CreateTask)
			tasks.GET("", s.ListTasks)
			tasks.GET("/:taskId", s.GetTask)
			tasks.GET("/queue/stats", s.QueueStats)
			tasks.POST("/queue/clean", s.CleanQueue)
		}
	}
}

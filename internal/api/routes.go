package api

// setupRoutes configures every endpoint in spec.md §6. /health* skip
// auth entirely; everything else requires a bearer credential, and
// /api/v1/execution/account-states additionally requires the admin
// capability claim.
func (s *Server) setupRoutes(keyStore *APIKeyStore, authConfig *AuthConfig, backtestHandler *BacktestHandler) {
	s.router.GET("/health", s.HealthHandler)
	s.router.GET("/health/readiness", s.ReadinessHandler)

	authed := s.router.Group("/")
	authed.Use(AuthMiddleware(keyStore, authConfig))
	{
		signals := authed.Group("/api/signals")
		{
			signals.GET("/latest", s.ListLatestSignals)
			signals.GET("/stats", s.SignalStatsHandler)
			signals.GET("/:signal_id", s.GetSignalByID)
		}

		v1 := authed.Group("/api/v1")
		{
			trading := v1.Group("/trading")
			{
				trading.POST("/execute", s.ExecuteTrading)
				trading.GET("/status", s.TradingStatus)
			}

			execution := v1.Group("/execution")
			execution.Use(RequirePermission("admin"))
			{
				execution.GET("/account-states", s.AccountStates)
			}

			if backtestHandler != nil {
				backtestHandler.RegisterRoutes(v1)
			}
		}
	}
}

package controllers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/services"
	"github.com/yeremiapane/restaurant-floor/utils"
)

var reportTypes = map[string]string{
	"pdf":  "application/pdf",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

type MetricsController struct {
	Metrics *services.MetricsAggregator
}

func NewMetricsController(metrics *services.MetricsAggregator) *MetricsController {
	return &MetricsController{Metrics: metrics}
}

func parseWindow(c *gin.Context) (from, to time.Time, ok bool) {
	for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, errInvalid(name))
			return from, to, false
		}
		*dst = t
	}
	return from, to, true
}

func (mc *MetricsController) compute(c *gin.Context) (*models.MetricsReport, bool) {
	from, to, ok := parseWindow(c)
	if !ok {
		return nil, false
	}
	report, err := mc.Metrics.Compute(c.Request.Context(), branchOf(c), from, to)
	if err != nil {
		respondErr(c, err)
		return nil, false
	}
	return report, true
}

// GetMetrics -> GET /admin/metrics?branch_id=&from=&to=
func (mc *MetricsController) GetMetrics(c *gin.Context) {
	report, ok := mc.compute(c)
	if !ok {
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Floor metrics", report)
}

// ExportPDF -> GET /admin/metrics/report.pdf
func (mc *MetricsController) ExportPDF(c *gin.Context) {
	mc.export(c, "pdf")
}

// ExportXLSX -> GET /admin/metrics/report.xlsx
func (mc *MetricsController) ExportXLSX(c *gin.Context) {
	mc.export(c, "xlsx")
}

func (mc *MetricsController) export(c *gin.Context, format string) {
	report, ok := mc.compute(c)
	if !ok {
		return
	}
	data, err := services.RenderMetrics(format, report)
	if err != nil {
		respondErr(c, err)
		return
	}
	name := fmt.Sprintf("floor-metrics-%s.%s", time.Now().Format("20060102-150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, reportTypes[format], data)
}

package localize

import "golang.org/x/text/message"

var english = Catalog{
	Notifications: {
		"budget.warning_80.title": func(p *message.Printer, v Params) string {
			return p.Sprintf("%s is at %d%% of its budget", str(v, "name"), integer(v, "percent"))
		},
		"budget.warning_80.body": func(p *message.Printer, v Params) string {
			return p.Sprintf("You've spent %s of %s this month.", money(p, v, "spent"), money(p, v, "allocated"))
		},
		"budget.limit_reached.title": func(p *message.Printer, v Params) string {
			return p.Sprintf("%s has reached its limit", str(v, "name"))
		},
		"budget.limit_reached.body": func(p *message.Printer, v Params) string {
			return p.Sprintf("You've used the full %s budgeted for this month.", money(p, v, "allocated"))
		},
		"budget.exceeded.title": func(p *message.Printer, v Params) string {
			return p.Sprintf("%s is over budget", str(v, "name"))
		},
		"budget.exceeded.body": func(p *message.Printer, v Params) string {
			return p.Sprintf("You've spent %s against a budget of %s.", money(p, v, "spent"), money(p, v, "allocated"))
		},
		"recurring.dueToday.title": func(p *message.Printer, v Params) string {
			return p.Sprintf("%s is due today", str(v, "title"))
		},
		"recurring.dueToday.body": func(p *message.Printer, v Params) string {
			return p.Sprintf("Expected amount: %s.", money(p, v, "amount"))
		},
		"recurring.dueSoon.title": func(p *message.Printer, v Params) string {
			if integer(v, "days") == 1 {
				return p.Sprintf("%s is due tomorrow", str(v, "title"))
			}
			return p.Sprintf("%s is due in %d days", str(v, "title"), integer(v, "days"))
		},
		"recurring.dueSoon.body": func(p *message.Printer, v Params) string {
			return p.Sprintf("Expected amount: %s.", money(p, v, "amount"))
		},
		"digest.weekly.title": func(p *message.Printer, v Params) string {
			return p.Sprintf("Your week in spending")
		},
		"digest.weekly.body": func(p *message.Printer, v Params) string {
			return p.Sprintf("You spent %s across %d transactions in the last 7 days.", money(p, v, "total"), integer(v, "count"))
		},
		"test.ping.title": func(p *message.Printer, v Params) string {
			return p.Sprintf("Test notification")
		},
		"test.ping.body": func(p *message.Printer, v Params) string {
			return p.Sprintf("Notifications are working on this device.")
		},
	},
}

var spanish = Catalog{
	Notifications: {
		"budget.warning_80.title": func(p *message.Printer, v Params) string {
			return p.Sprintf("%s está al %d%% de su presupuesto", str(v, "name"), integer(v, "percent"))
		},
		"budget.warning_80.body": func(p *message.Printer, v Params) string {
			return p.Sprintf("Has gastado %s de %s este mes.", money(p, v, "spent"), money(p, v, "allocated"))
		},
		"budget.limit_reached.title": func(p *message.Printer, v Params) string {
			return p.Sprintf("%s alcanzó su límite", str(v, "name"))
		},
		"budget.limit_reached.body": func(p *message.Printer, v Params) string {
			return p.Sprintf("Has usado los %s presupuestados para este mes.", money(p, v, "allocated"))
		},
		"budget.exceeded.title": func(p *message.Printer, v Params) string {
			return p.Sprintf("%s superó su presupuesto", str(v, "name"))
		},
		"budget.exceeded.body": func(p *message.Printer, v Params) string {
			return p.Sprintf("Has gastado %s con un presupuesto de %s.", money(p, v, "spent"), money(p, v, "allocated"))
		},
		"recurring.dueToday.title": func(p *message.Printer, v Params) string {
			return p.Sprintf("%s vence hoy", str(v, "title"))
		},
		"recurring.dueToday.body": func(p *message.Printer, v Params) string {
			return p.Sprintf("Monto esperado: %s.", money(p, v, "amount"))
		},
		"recurring.dueSoon.title": func(p *message.Printer, v Params) string {
			if integer(v, "days") == 1 {
				return p.Sprintf("%s vence mañana", str(v, "title"))
			}
			return p.Sprintf("%s vence en %d días", str(v, "title"), integer(v, "days"))
		},
		"recurring.dueSoon.body": func(p *message.Printer, v Params) string {
			return p.Sprintf("Monto esperado: %s.", money(p, v, "amount"))
		},
		"digest.weekly.title": func(p *message.Printer, v Params) string {
			return p.Sprintf("Tu semana en gastos")
		},
		"digest.weekly.body": func(p *message.Printer, v Params) string {
			return p.Sprintf("Gastaste %s en %d transacciones en los últimos 7 días.", money(p, v, "total"), integer(v, "count"))
		},
	},
}

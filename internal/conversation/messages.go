package conversation

import (
	"fmt"
	"strings"

	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/shopspring/decimal"
)

// Input tokens. Buttons and list rows echo their label back as the input.
const (
	TokenHola            = "hola"
	TokenInicio          = "inicio"
	TokenLaboratorio     = "Laboratorio"
	TokenMedicamentos    = "Medicamentos"
	TokenRegresar        = "Regresar"
	TokenBuscar          = "Buscar"
	TokenVerLista        = "Ver Lista"
	TokenAgregarMas      = "Agregar más"
	TokenFinalizarPedido = "Finalizar Pedido"
	TokenCancelarPedido  = "Cancelar Pedido"
	TokenConfirmarPedido = "Confirmar Pedido"
	TokenSkipSurname     = "-"
)

const separator = "━━━━━━━━━━━━━━━"

var (
	welcomeOptions      = []string{TokenLaboratorio, TokenMedicamentos}
	pharmacyMenuOptions = []string{TokenBuscar, TokenVerLista, TokenRegresar}
	addedOptions        = []string{TokenAgregarMas, TokenFinalizarPedido, TokenCancelarPedido}
	nextProductOptions  = []string{TokenBuscar, TokenVerLista, TokenFinalizarPedido}
	confirmOptions      = []string{TokenConfirmarPedido, TokenCancelarPedido}
	genderOptions       = []string{"M", "F"}
)

// Fixed prompts.
const (
	msgSearchPrompt       = "🔍 Escribe el nombre del medicamento:"
	msgWhatNext           = "¿Qué deseas hacer?"
	msgNextProduct        = "🛒 ¿Cómo deseas buscar el siguiente producto?"
	msgConfirmQuestion    = "¿Deseas confirmar este pedido?"
	msgEmptyCart          = "Tu carrito está vacío. 🛒"
	msgAskFirstName       = "¡Excelente! ¿Cuál es tu *nombre*?"
	msgAskPaternal        = "Gracias. ¿Cuál es tu *apellido paterno*?"
	msgAskMaternal        = "Ahora, ¿cuál es tu *apellido materno*? (o responde '-' si no aplica)"
	msgAskEmail           = "¿Cuál es tu *correo*?"
	msgAskCURP            = "Gracias. Ahora ingresa tu *CURP* (18 caracteres):"
	msgInvalidEmail       = "❌ Formato de correo inválido. Por favor ingresa un correo válido:"
	msgInvalidCURP        = "❌ CURP inválido. Inténtalo de nuevo:"
	msgAskGender          = "¿Cuál es tu género?"
	msgAskAddress         = "📍 ¿Cuál es la *dirección completa*?"
	msgAskPrescription    = "✅ ¡Listo! Ahora envía la *foto de tu receta médica*."
	msgRepeatPrescription = "📷 Por favor envía la *foto de tu receta médica* para continuar."
	msgPrescriptionDone   = "📄 Recibimos tu receta. Un asesor de Biotecza revisará tu pedido y te contactará para coordinar la entrega."
	msgNoCategories       = "Por el momento no hay categorías disponibles."
	msgNoLabTests         = "Por el momento no hay estudios disponibles."
	msgRecipeWarning      = "⚠️ *Recuerde:* Algunos medicamentos requieren receta médica."
	msgPickFromList       = "⚠️ Si quieres agregar un producto, tocá su nombre en la lista siguiente."
)

func text(body string) models.Reply {
	return models.TextReply{Body: body}
}

func buttons(body string, options []string) models.Reply {
	return models.ButtonsReply{Body: body, Options: options}
}

func list(header, body, action string, options []string) models.Reply {
	return models.ListReply{Header: header, Body: body, Action: action, Options: options}
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func welcomeReply(firstName string) models.Reply {
	if name := strings.TrimSpace(firstName); name != "" {
		return buttons(fmt.Sprintf("¡Hola, %s! Bienvenido a *Biotecza*.\nSelecciona una opción:", name), welcomeOptions)
	}
	return buttons("¡Hola! Bienvenido a *Biotecza*.\nSelecciona una opción:", welcomeOptions)
}

func pharmacyMenuReply() models.Reply {
	return buttons("💊 *Menú Farmacia*\n¿Qué deseas hacer?", pharmacyMenuOptions)
}

func labListReply(names []string) models.Reply {
	return list("🔬 Estudios", "Selecciona un análisis:", "Ver Estudios", names)
}

func labDetailReplies(t models.LabTest, names []string) []models.Reply {
	detail := fmt.Sprintf("✅ *Información del Estudio*\n%s\n\n🧪 *%s*\n📝 *Instrucciones:* %s\n💰 *Precio:* %s\n\n¿Deseas consultar otro estudio?",
		separator, strings.ToUpper(t.Name), t.Instructions, money(t.Price))
	return []models.Reply{
		text(detail),
		list("🔬 Otros Estudios", "Selecciona otro:", "Ver Estudios", names),
		buttons("O vuelve al inicio:", []string{TokenRegresar}),
	}
}

func categoriesReply(categories []string) models.Reply {
	return list("📂 Categorías", "Elige una:", "Ver", categories)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func brandNames(meds []models.Medication) []string {
	names := make([]string, len(meds))
	for i, m := range meds {
		names[i] = m.BrandName
	}
	return names
}

// FormatCategory renders the in-stock products of a category.
func FormatCategory(category string, meds []models.Medication) string {
	if len(meds) == 0 {
		return fmt.Sprintf("Por el momento no tenemos stock disponible en la categoría *%s*.", category)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "💊 *Productos en %s:*\n%s\n\n", category, separator)
	for _, m := range meds {
		fmt.Fprintf(&b, "📌 *%s*\n🧪 Compuesto: %s\n⚖️ Dosis/Pres: %s\n💰 Precio: %s\n\n",
			strings.ToUpper(m.BrandName), m.ActiveCompound, orNA(m.Presentation), money(m.Price))
	}
	b.WriteString(msgRecipeWarning)
	return b.String()
}

// FormatSearchResults renders search hits for term.
func FormatSearchResults(term string, meds []models.Medication) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔎 Resultados para '%s':\n%s\n\n", term, separator)
	for _, m := range meds {
		fmt.Fprintf(&b, "• *%s*\n  Compuesto: %s\n  Presentación: %s\n  💰 %s\n\n",
			m.BrandName, m.ActiveCompound, orNA(m.Presentation), money(m.Price))
	}
	b.WriteString(msgPickFromList)
	return b.String()
}

// RenderTicket renders the order summary with one entry per line and the grand
// total. The total is computed from the lines.
func RenderTicket(lines []models.TicketLine) string {
	if len(lines) == 0 {
		return msgEmptyCart
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📝 *RESUMEN DE TU PEDIDO*\n%s\n\n", separator)
	total := decimal.Zero
	for _, l := range lines {
		sub := l.Subtotal()
		total = total.Add(sub)
		fmt.Fprintf(&b, "• %s (x%d)\n  Subtotal: %s\n\n", l.Name, l.Quantity, money(sub))
	}
	fmt.Fprintf(&b, "%s\n💰 *TOTAL A PAGAR: %s*", separator, money(total))
	return b.String()
}
